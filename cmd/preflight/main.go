// cmd/preflight/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hamed0406/apipulse/internal/assets"
	"github.com/hamed0406/apipulse/internal/config"
	"github.com/hamed0406/apipulse/internal/resolve"
)

func main() {
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		fail("config: " + err.Error())
	}
	ok("ADDR=" + cfg.Addr)

	if len(cfg.AllowedOrigins) == 0 {
		warn("APIPULSE_ALLOWED_ORIGINS empty; any origin may call the API.")
	} else {
		ok(fmt.Sprintf("ALLOWED_ORIGINS=%v", cfg.AllowedOrigins))
	}
	if !cfg.OffloadEnabled {
		warn("offload disabled; probes run inline.")
	}

	doc, err := assets.NewLoader(cfg.AssetsSource).Load(ctx)
	if err != nil {
		fail(err.Error())
	}
	ok(fmt.Sprintf("endpoint document loaded from %s (%d environments, %d endpoints)",
		cfg.AssetsSource, len(doc.Environments), len(doc.Endpoints)))

	rows, diags := resolve.Resolve(doc)
	for _, d := range diags {
		warn("skipped " + d.Error())
	}
	if len(rows) == 0 {
		fail("no endpoint resolved to a target.")
	}
	ok(fmt.Sprintf("%d targets resolved", len(rows)))

	ok("preflight passed")
}
