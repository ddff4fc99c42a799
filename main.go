package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/patchwork-go/cmd"
	"github.com/tphakala/patchwork-go/internal/buildinfo"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cmd.Execute(ctx, buildinfo.Current(), os.Args[1:])
	stop()
	os.Exit(code)
}
