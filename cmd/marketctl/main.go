package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/quantmarket/internal/adapters/apiclient"
	"github.com/alejandrodnm/quantmarket/internal/adapters/notify"
	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/shopspring/decimal"
)

const usage = `usage: marketctl [flags] <command> [args]

commands:
  board                                   market board
  market    <id>                          market detail (JSON)
  quote     <id> <buy|sell> <yes|no> <shares>
  buy       <id> <account> <yes|no> <shares> [max-cost]
  sell      <id> <account> <yes|no> <shares> [min-proceeds]
  deposit   <account> <amount>
  portfolio <account>
  trades    <account>
`

func main() {
	api := flag.String("api", envOr("QUANTMARKET_API", "http://localhost:8080"), "engine API base URL")
	table := flag.Bool("table", true, "print full tables")
	timeout := flag.Duration("timeout", 15*time.Second, "overall request timeout")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	c := apiclient.New(*api)
	console := notify.NewConsole(*table)

	if err := dispatch(ctx, c, console, flag.Args()); err != nil {
		slog.Error("marketctl failed", "err", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, c *apiclient.Client, console *notify.Console, args []string) error {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "board":
		markets, err := c.Markets(ctx)
		if err != nil {
			return err
		}
		return console.NotifyMarkets(ctx, markets)

	case "market":
		if err := need(args, 1); err != nil {
			return err
		}
		view, err := c.Market(ctx, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(view)

	case "quote":
		if err := need(args, 4); err != nil {
			return err
		}
		action, err := domain.ParseAction(args[1])
		if err != nil {
			return err
		}
		side, shares, err := sideAndShares(args[2], args[3])
		if err != nil {
			return err
		}
		q, err := c.Quote(ctx, args[0], action, side, shares)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s %s shares: amount=%s avg=%s fee=%s yes→%s\n",
			q.Action, q.Shares, q.Side, q.Amount.StringFixed(6), q.AvgPrice.StringFixed(4),
			q.Fee.StringFixed(6), q.NewYesPrice.StringFixed(4))
		return nil

	case "buy", "sell":
		if err := need(args, 4); err != nil {
			return err
		}
		side, shares, err := sideAndShares(args[2], args[3])
		if err != nil {
			return err
		}
		limit := decimal.Zero
		if len(args) > 4 {
			if limit, err = decimal.NewFromString(args[4]); err != nil {
				return fmt.Errorf("limit: %w", err)
			}
		}
		var trade domain.Trade
		if cmd == "buy" {
			trade, err = c.Buy(ctx, args[0], args[1], side, shares, limit)
		} else {
			trade, err = c.Sell(ctx, args[0], args[1], side, shares, limit)
		}
		if err != nil {
			return err
		}
		console.PrintTrades([]domain.Trade{trade})
		return nil

	case "deposit":
		if err := need(args, 2); err != nil {
			return err
		}
		amount, err := decimal.NewFromString(args[1])
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		bal, err := c.Deposit(ctx, args[0], amount)
		if err != nil {
			return err
		}
		fmt.Printf("%s balance: $%s\n", args[0], bal.StringFixed(2))
		return nil

	case "portfolio":
		if err := need(args, 1); err != nil {
			return err
		}
		p, err := c.Portfolio(ctx, args[0])
		if err != nil {
			return err
		}
		return console.NotifyPortfolio(ctx, p)

	case "trades":
		if err := need(args, 1); err != nil {
			return err
		}
		trades, err := c.Trades(ctx, "", args[0], 50)
		if err != nil {
			return err
		}
		console.PrintTrades(trades)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func need(args []string, n int) error {
	if len(args) < n {
		return fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}
	return nil
}

func sideAndShares(rawSide, rawShares string) (domain.Side, decimal.Decimal, error) {
	side, err := domain.ParseSide(rawSide)
	if err != nil {
		return "", decimal.Zero, err
	}
	shares, err := decimal.NewFromString(rawShares)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("shares: %w", err)
	}
	return side, shares, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
