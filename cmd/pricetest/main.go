// Command pricetest checks broker connectivity and prints live quotes for the
// given symbols (or the configured KR watchlist). Read-only; it never submits
// orders, so it runs without the LIVE confirmation latch.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	_ "time/tzdata"

	"github.com/beta0629/stock-trading-system-sub000/internal/broker/kis"
	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
	"github.com/beta0629/stock-trading-system-sub000/internal/infra"
)

func main() {
	cfgPath := flag.String("config", infra.ResolveConfigPath(), "path to config.yaml")
	market := flag.String("market", "KR", "market of the symbols (KR or US)")
	flag.Parse()

	cfg, err := infra.LoadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if cfg.API.KIS.AppKey == "" || cfg.API.KIS.AppSecret == "" {
		fmt.Fprintln(os.Stderr, "pricetest needs KIS credentials (api.kis or STOCK_KIS_* env)")
		os.Exit(1)
	}

	symbols := flag.Args()
	if len(symbols) == 0 {
		for _, s := range cfg.Watchlist.KR {
			symbols = append(symbols, s.Code)
		}
	}
	if len(symbols) == 0 {
		fmt.Fprintln(os.Stderr, "no symbols given and watchlist is empty")
		os.Exit(1)
	}

	client := kis.NewClient(kis.Config{
		BaseURL:   cfg.API.KIS.BaseURL,
		AppKey:    cfg.API.KIS.AppKey,
		AppSecret: cfg.API.KIS.AppSecret,
		AccountNo: cfg.API.KIS.AccountNo,
		Virtual:   cfg.API.KIS.Virtual,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	m := domain.Market(*market)
	for _, sym := range symbols {
		price, err := client.Price(ctx, sym, m)
		if err != nil {
			fmt.Printf("%-8s  ERROR: %v\n", sym, err)
			continue
		}
		fmt.Printf("%-8s  %s\n", sym, price)
	}
}
