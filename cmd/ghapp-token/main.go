// Command ghapp-token prints a GitHub App installation access token for an organization as JSON.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OpsMx/ghapp-token/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
