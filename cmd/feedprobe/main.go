// feedprobe connects to a price feed WebSocket and streams parsed updates to
// the console. Useful for eyeballing a feed before pointing the daemon at it.
//
// Usage: go run ./cmd/feedprobe --url wss://stream.example.com/prices --symbols AAPL,MSFT
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/WeAreBini/pricefeed/internal/connection"
	"github.com/WeAreBini/pricefeed/internal/protocol"
	"github.com/WeAreBini/pricefeed/internal/subscription"
)

// staticSymbols is a fixed replay source for the probe's watch list.
type staticSymbols []string

func (s staticSymbols) Symbols() []string { return s }

func main() {
	url := flag.String("url", "", "feed WebSocket URL (ws:// or wss://)")
	symbolsArg := flag.String("symbols", "", "comma-separated symbols to watch")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if *url == "" || *symbolsArg == "" {
		fmt.Fprintln(os.Stderr, "usage: feedprobe --url wss://... --symbols AAPL,MSFT")
		os.Exit(2)
	}

	var symbols staticSymbols
	for _, s := range strings.Split(*symbolsArg, ",") {
		symbols = append(symbols, subscription.Normalize(s))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	cfg := connection.DefaultManagerConfig()
	cfg.URL = *url

	manager := connection.NewManager(cfg, logger)
	manager.SetSymbolSource(symbols)

	if err := manager.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		manager.Stop(stopCtx)
	}()

	logger.Info("streaming", "url", *url, "symbols", symbols)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-manager.Messages():
			if !ok {
				return
			}
			printMessage(msg, *verbose)
		}
	}
}

func printMessage(msg protocol.Message, verbose bool) {
	if verbose {
		data, _ := json.Marshal(msg)
		fmt.Println(string(data))
		return
	}

	if msg.Type != protocol.TypePriceUpdate || msg.Update == nil {
		fmt.Printf("%-14s ts=%d\n", msg.Type, msg.Timestamp)
		return
	}

	u := msg.Update
	fmt.Printf("%-8s price=%.4f change=%+.4f (%+.2f%%) vol=%d ts=%d\n",
		u.Symbol, u.Price, u.Change, u.ChangePercent, u.Volume, u.Timestamp)
}
