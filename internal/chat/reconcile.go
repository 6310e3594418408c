package chat

// Reconciliation of push-delivered inserts against the local sequence.
//
// A push insert is one of three things: the echo of an entry this client
// already confirmed through the send response, the echo of an entry still
// optimistic here, or a genuinely new message from the counterpart (or from
// another session of the same user). The send response and the push event are
// racing signals for the same underlying write; reconciliation tolerates
// whichever arrives first without producing a flash-then-duplicate artifact.

// ApplyInsert folds a push-delivered insert into the sequence:
//
//  1. A message with the same server ID already exists: update it in place.
//  2. An optimistic entry from the same sender with the same content within
//     the match window: replace it in its slot, keeping the render key. With
//     several candidates the earliest-created one wins.
//  3. Otherwise append as a new confirmed message.
//
// It never fails; the fallback is always an append.
func (t *Thread) ApplyInsert(m Message) {
	m.Confirmed = true

	t.mu.Lock()
	if i := t.indexByServerIDLocked(m.ID); i >= 0 {
		m.LocalID = t.entries[i].msg.LocalID
		t.entries[i].msg = m
		t.finishInsertLocked(m.LocalID)
		return
	}

	if i := t.matchOptimisticLocked(m); i >= 0 {
		m.LocalID = t.entries[i].msg.LocalID
		t.entries[i].msg = m
		t.finishInsertLocked(m.LocalID)
		return
	}

	if m.LocalID == "" {
		m.LocalID = serverLocalID(m.ID)
	}
	t.entries = append(t.entries, threadEntry{msg: m, seq: t.nextSeq})
	t.nextSeq++
	t.finishInsertLocked(m.LocalID)
}

// finishInsertLocked re-sorts, persists, and releases the lock before
// publishing.
func (t *Thread) finishInsertLocked(localID string) {
	t.sortLocked()
	t.writeCacheLocked()
	t.mu.Unlock()
	t.publishUpserted(localID)
}

// matchOptimisticLocked returns the index of the optimistic entry that m is
// the echo of, or -1. The heuristic is deliberately permissive: same sender,
// same literal content, created within the match window. A false match only
// risks mis-attributing timestamp and ID, never message loss. Ambiguity is
// resolved deterministically to the earliest-created candidate.
func (t *Thread) matchOptimisticLocked(m Message) int {
	best := -1
	for i, e := range t.entries {
		if e.msg.Confirmed {
			continue
		}
		if e.msg.Sender != m.Sender || !contentEqual(e.msg, m) {
			continue
		}
		delta := m.CreatedAt.Sub(e.msg.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta >= matchWindow {
			continue
		}
		if best < 0 || e.msg.CreatedAt.Before(t.entries[best].msg.CreatedAt) {
			best = i
		}
	}
	return best
}

// findConfirmedMatchLocked locates a confirmed entry that accounts for the
// given optimistic message, used when a fresh fetch replaces the sequence.
func (t *Thread) findConfirmedMatchLocked(m Message) int {
	for i, e := range t.entries {
		if !e.msg.Confirmed {
			continue
		}
		if e.msg.Sender != m.Sender || !contentEqual(e.msg, m) {
			continue
		}
		delta := e.msg.CreatedAt.Sub(m.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta < matchWindow {
			return i
		}
	}
	return -1
}

// contentEqual compares message content: literal body for text, attachment
// reference for media.
func contentEqual(a, b Message) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == KindText {
		return a.Body == b.Body
	}
	if a.Attachment == nil || b.Attachment == nil {
		return a.Attachment == b.Attachment && a.Body == b.Body
	}
	return a.Attachment.URL == b.Attachment.URL
}
