// Command emergencystop is the operator kill tool. It cancels every
// pending order, liquidates all holdings at market, and stops a running
// bot through its PID file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"scalpbot/config"
	"scalpbot/internal/adapters/kisbroker"
	"scalpbot/internal/adapters/logger"
	"scalpbot/internal/ports"
)

var (
	noSell     = flag.Bool("no-sell", false, "cancel pending orders and stop the bot without liquidating")
	cancelOnly = flag.Bool("cancel", false, "only cancel pending orders; leave holdings and the bot alone")
	timeout    = flag.Duration("timeout", 30*time.Second, "deadline for the broker calls")
)

func main() {
	flag.Parse()
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	broker, err := kisbroker.New(kisbroker.Config{
		AppKey:    cfg.AppKey,
		AppSecret: cfg.AppSecret,
		AccountNo: cfg.AccountNo,
		BaseURL:   cfg.BrokerURL,
		IndexCode: cfg.IndexCode,
		DryRun:    cfg.DryRun,
		Logger:    logger.New(logger.ParseLevel("ERROR")),
	})
	if err != nil {
		log.Fatalf("Failed to initialize broker: %v", err)
	}

	cancelled, err := broker.CancelAllPendingOrders(ctx)
	if err != nil {
		log.Fatalf("Failed to cancel pending orders: %v", err)
	}
	fmt.Printf("Cancelled %d pending orders\n", cancelled)
	if *cancelOnly {
		return
	}

	if !*noSell {
		sold, err := liquidate(ctx, broker)
		if err != nil {
			log.Fatalf("Failed to read holdings: %v", err)
		}
		if sold > 0 {
			fmt.Printf("Submitted %d market sell orders\n", sold)
		} else {
			fmt.Println("No holdings to liquidate")
		}
	}

	stopBot(cfg.PIDFile)
}

// liquidator is the slice of the broker the tool sells through.
type liquidator interface {
	GetPositions(ctx context.Context) ([]ports.BrokerPosition, error)
	SellMarket(ctx context.Context, symbol string, quantity int) (*ports.OrderResult, error)
}

// liquidate market-sells every holding, continuing past per-symbol
// failures so a single rejection does not strand the rest.
func liquidate(ctx context.Context, broker liquidator) (int, error) {
	positions, err := broker.GetPositions(ctx)
	if err != nil {
		return 0, err
	}

	sold := 0
	for _, pos := range positions {
		if pos.Quantity <= 0 {
			continue
		}
		order, err := broker.SellMarket(ctx, pos.Symbol, pos.Quantity)
		if err != nil || !order.Success {
			detail := ""
			if err != nil {
				detail = err.Error()
			} else {
				detail = order.ErrorDetail
			}
			fmt.Fprintf(os.Stderr, "Sell failed for %s x%d: %s\n", pos.Symbol, pos.Quantity, detail)
			continue
		}
		fmt.Printf("Sold %s x%d\n", pos.Symbol, pos.Quantity)
		sold++
	}
	return sold, nil
}

// stopBot sends SIGTERM to the process recorded in the PID file. A
// missing file means no bot is running, which is not an error here.
func stopBot(pidFile string) {
	if pidFile == "" {
		fmt.Println("No PID file configured, skipping bot shutdown")
		return
	}
	data, err := os.ReadFile(pidFile)
	if os.IsNotExist(err) {
		fmt.Println("No PID file found, bot is not running")
		return
	}
	if err != nil {
		log.Fatalf("Failed to read PID file %s: %v", pidFile, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		log.Fatalf("Invalid PID file %s: %v", pidFile, err)
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		log.Fatalf("Failed to signal process %d: %v", pid, err)
	}
	fmt.Printf("Sent SIGTERM to bot process %d\n", pid)
}
