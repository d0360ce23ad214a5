package infra

import (
	"fmt"
	"strings"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
	colorYellow = "\033[33m"
)

// PrintBanner displays the startup banner with a mode-specific warning.
func PrintBanner(cfg *Config) {
	mode := strings.ToUpper(cfg.Trading.Mode)
	version := cfg.App.Version

	color := colorCyan
	modeDesc := "SIMULATED FILLS, NO REAL ORDERS"
	if mode == "LIVE" {
		color = colorRed
		modeDesc = "REAL MONEY TRADING"
	}

	fmt.Println()
	fmt.Printf("%s###########################################################%s\n", color, colorReset)
	fmt.Printf("%s#                                                         #%s\n", color, colorReset)
	fmt.Printf("%s#             📈 Stock Auto-Trading Engine                #%s\n", color, colorReset)
	fmt.Printf("%s#                                                         #%s\n", color, colorReset)
	fmt.Printf("%s#   MODE:    %-36s #%s\n", color, mode, colorReset)
	fmt.Printf("%s#   TYPE:    %-36s #%s\n", color, modeDesc, colorReset)
	fmt.Printf("%s#   VERSION: %-36s #%s\n", color, version, colorReset)
	fmt.Printf("%s#                                                         #%s\n", color, colorReset)

	if mode == "LIVE" {
		fmt.Printf("%s#   ⚠️  WARNING: ORDERS WILL REACH THE REAL BROKER  ⚠️    #%s\n", colorRed, colorReset)
	}

	fmt.Printf("%s###########################################################%s\n", color, colorReset)
	fmt.Println()
}
