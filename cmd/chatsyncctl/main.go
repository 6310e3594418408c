// chatsyncctl is a diagnostic CLI for the sync engine: list the inbox, tail a
// conversation live, send a test message, mark a conversation read.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lojinha/chatsync/internal/app"
	"github.com/lojinha/chatsync/internal/bus"
	"github.com/lojinha/chatsync/internal/cache"
	"github.com/lojinha/chatsync/internal/chat"
	"github.com/lojinha/chatsync/internal/config"
	"github.com/lojinha/chatsync/internal/push"
	"github.com/lojinha/chatsync/internal/remote"
	"github.com/lojinha/chatsync/internal/status"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default ~/.chatsync/config.toml)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	path := *configFlag
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	rig := buildRig(cfg, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "inbox":
		cmdInbox(ctx, rig)
	case "tail":
		requireArg(args, 1, "usage: chatsyncctl tail <conversation-id>")
		cmdTail(rig, parseID(args[1]))
	case "send":
		requireArg(args, 2, "usage: chatsyncctl send <conversation-id> <text>")
		cmdSend(ctx, rig, parseID(args[1]), args[2])
	case "read":
		requireArg(args, 1, "usage: chatsyncctl read <conversation-id>")
		cmdRead(ctx, rig, parseID(args[1]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

// rig bundles a directly wired engine for one-shot commands. The ctl never
// touches the persistent cache; each invocation starts cold on purpose.
type rig struct {
	engine    *app.Engine
	transport *push.Transport
	bus       *bus.Bus
}

func buildRig(cfg *config.Config, logger *zap.Logger) *rig {
	b := bus.New()
	machine := status.NewMachine(b)
	store := cache.NewMemory(cfg.CacheMaxEntries, logger)
	client := remote.NewClient(remote.Config{
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
		Viewer:  chat.Role(cfg.ViewerRole),
		Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	}, logger)
	manager := push.NewManager(b, logger)
	transport := push.NewTransport(push.TransportConfig{
		URL:               cfg.PushURL,
		Token:             cfg.Token,
		HeartbeatInterval: time.Duration(cfg.HeartbeatSeconds) * time.Second,
	}, manager.HandleFrame, machine, b, logger)
	manager.Start(context.Background())

	return &rig{
		engine:    app.NewEngine(chat.Role(cfg.ViewerRole), client, store, b, manager, logger),
		transport: transport,
		bus:       b,
	}
}

func cmdInbox(ctx context.Context, r *rig) {
	r.engine.Start(ctx)
	for _, c := range r.engine.Inbox().Conversations() {
		marker := " "
		if c.UnreadCount > 0 {
			marker = "*"
		}
		fmt.Printf("%s %6d  %-24s  %s  (%d unread)\n",
			marker, c.CounterpartyID, c.DisplayName,
			c.LastMessageAt.Format("2006-01-02 15:04"), c.UnreadCount)
	}
}

func cmdTail(r *rig, conversationID int64) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.transport.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = r.transport.Close() }()

	r.engine.Start(ctx)
	defer r.engine.Stop()

	thread, err := r.engine.OpenThread(ctx, conversationID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	for _, m := range thread.Messages() {
		printMessage(m)
	}

	ch, unsub := r.bus.Subscribe("chat.message.", 256)
	defer unsub()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	seen := len(thread.Messages())
	for {
		select {
		case <-ch:
			msgs := thread.Messages()
			for _, m := range msgs[min(seen, len(msgs)):] {
				printMessage(m)
			}
			seen = len(msgs)
		case <-sigCh:
			return
		}
	}
}

func cmdSend(ctx context.Context, r *rig, conversationID int64, text string) {
	r.engine.Start(ctx)
	thread, err := r.engine.OpenThread(ctx, conversationID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	msg, err := thread.SendText(ctx, text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("sent message %d\n", msg.ID)
}

func cmdRead(ctx context.Context, r *rig, conversationID int64) {
	r.engine.Start(ctx)
	r.engine.MarkRead(ctx, conversationID)
	fmt.Printf("conversation %d marked read\n", conversationID)
}

func printMessage(m chat.Message) {
	state := " "
	if !m.Confirmed {
		state = "~"
	}
	body := m.Body
	if m.Kind != chat.KindText && m.Attachment != nil {
		body = fmt.Sprintf("[%s] %s", m.Kind, m.Attachment.URL)
	}
	fmt.Printf("%s %s  %-7s  %s\n", state, m.CreatedAt.Format("15:04:05"), m.Sender, body)
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(os.Stderr, "error: invalid conversation id %q\n", s)
		os.Exit(1)
	}
	return id
}

func requireArg(args []string, n int, usage string) {
	if len(args) <= n {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatsyncctl [--config <path>] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  inbox                      List conversations")
	fmt.Fprintln(os.Stderr, "  tail <conversation-id>     Stream a conversation live")
	fmt.Fprintln(os.Stderr, "  send <conversation-id> <text>  Send a text message")
	fmt.Fprintln(os.Stderr, "  read <conversation-id>     Mark a conversation read")
}
