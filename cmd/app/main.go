package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "time/tzdata"

	"github.com/beta0629/stock-trading-system-sub000/internal/app"
	"github.com/beta0629/stock-trading-system-sub000/internal/infra"
)

func main() {
	cfgPath := flag.String("config", infra.ResolveConfigPath(), "path to config.yaml")
	flag.Parse()

	trader, err := app.New(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := trader.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "trader failed: %v\n", err)
		trader.Close()
		os.Exit(1)
	}
	trader.Close()
}
