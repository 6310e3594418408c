// chatsyncd runs the sync engine headless against a configured backend.
// It is an operational harness: it keeps the cache warm and logs push
// activity, which makes backend and connectivity problems visible without a
// front end attached.
package main

import (
	"flag"

	"go.uber.org/fx"

	"github.com/lojinha/chatsync/internal/app"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default ~/.chatsync/config.toml)")
	flag.Parse()

	application := fx.New(
		app.Module(app.Params{ConfigPath: *configFlag}),
	)

	application.Run()
}
