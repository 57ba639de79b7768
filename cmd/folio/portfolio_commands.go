package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brojonat/folio/client"
	"github.com/urfave/cli/v2"
)

func portfolioCommands() *cli.Command {
	return &cli.Command{
		Name:    "portfolio",
		Aliases: []string{"p"},
		Usage:   "Portfolio session and snapshot commands",
		Subcommands: []*cli.Command{
			connectCommand(),
			disconnectCommand(),
			sessionCommand(),
			showCommand(),
			refreshCommand(),
			receiveCommand(),
		},
	}
}

func connectCommand() *cli.Command {
	return &cli.Command{
		Name:      "connect",
		Usage:     "Connect an account and run the initial aggregation",
		ArgsUsage: "ACCOUNT_ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "cluster",
				Usage: "Cluster label; must match the server's cluster (defaults to it)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("account address is required")
			}
			account := c.Args().Get(0)

			cl, err := newClient(c)
			if err != nil {
				return err
			}

			p, err := cl.Connect(c.Context, account, c.String("cluster"))
			if err != nil {
				return fmt.Errorf("failed to connect account: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(p)
			}

			if p.State.Phase == "error" {
				fmt.Printf("! Account connected, initial fetch failed: %s\n", p.State.LastError)
			} else {
				fmt.Printf("✓ Account connected\n")
			}
			printPortfolio(p)
			return nil
		},
	}
}

func disconnectCommand() *cli.Command {
	return &cli.Command{
		Name:  "disconnect",
		Usage: "Disconnect the current account",
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			if err := cl.Disconnect(c.Context); err != nil {
				return fmt.Errorf("failed to disconnect: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]string{"status": "disconnected"})
			}
			fmt.Printf("✓ Disconnected\n")
			return nil
		},
	}
}

func sessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Show the connected account",
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			s, err := cl.Session(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get session: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(s)
			}
			if s == nil {
				fmt.Println("No account connected")
				return nil
			}
			fmt.Printf("Account: %s\n", s.Account)
			fmt.Printf("Cluster: %s\n", s.Cluster)
			return nil
		},
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:    "show",
		Aliases: []string{"get"},
		Usage:   "Show the current state and snapshot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq expression applied to the portfolio JSON (e.g. '.snapshot.holdings[].mint')",
			},
		},
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			p, err := cl.Portfolio(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get portfolio: %w", err)
			}

			if expr := c.String("jq"); expr != "" {
				codes, err := compileJQ([]string{expr})
				if err != nil {
					return err
				}
				results, err := runJQ(codes[0], p)
				if err != nil {
					return fmt.Errorf("jq filter failed: %w", err)
				}
				for _, r := range results {
					if err := outputJSON(r); err != nil {
						return err
					}
				}
				return nil
			}

			if c.Bool("json") {
				return outputJSON(p)
			}
			printPortfolio(p)
			return nil
		},
	}
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Refetch the balance and holdings of the connected account",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Block until the refresh completes and print the result",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   30 * time.Second,
				Usage:   "How long to wait for the refresh",
			},
		},
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			wait := c.Bool("wait")
			p, err := cl.Refresh(ctx, wait)
			if err != nil {
				return fmt.Errorf("failed to refresh: %w", err)
			}

			if !wait {
				if c.Bool("json") {
					return outputJSON(map[string]string{"status": "refreshing"})
				}
				fmt.Printf("✓ Refresh started\n")
				return nil
			}

			if c.Bool("json") {
				return outputJSON(p)
			}
			if p.State.Phase == "error" {
				fmt.Printf("! Refresh failed: %s\n", p.State.LastError)
			} else {
				fmt.Printf("✓ Refreshed\n")
			}
			printPortfolio(p)
			return nil
		},
	}
}

func receiveCommand() *cli.Command {
	return &cli.Command{
		Name:  "receive",
		Usage: "Build a Solana Pay transfer request into the connected account",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "amount", Usage: "Amount in UI units (e.g. 1.5)"},
			&cli.StringFlag{Name: "spl-token", Usage: "Token mint; omit for native SOL"},
			&cli.StringFlag{Name: "label", Usage: "Label shown by the paying wallet"},
			&cli.StringFlag{Name: "message", Usage: "Message shown by the paying wallet"},
			&cli.StringFlag{Name: "memo", Usage: "Memo to attach (defaults to a generated request id)"},
			&cli.StringFlag{
				Name:    "qr-out",
				Aliases: []string{"o"},
				Usage:   "Write the QR code PNG to this file",
			},
		},
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			rr, err := cl.Receive(c.Context, client.ReceiveOptions{
				Amount:   c.String("amount"),
				SPLToken: c.String("spl-token"),
				Label:    c.String("label"),
				Message:  c.String("message"),
				Memo:     c.String("memo"),
			})
			if err != nil {
				return fmt.Errorf("failed to build receive request: %w", err)
			}

			if out := c.String("qr-out"); out != "" {
				png, err := base64.StdEncoding.DecodeString(rr.QRCodeData)
				if err != nil {
					return fmt.Errorf("invalid QR code data: %w", err)
				}
				if err := os.WriteFile(out, png, 0o644); err != nil {
					return fmt.Errorf("failed to write QR code: %w", err)
				}
			}

			if c.Bool("json") {
				return outputJSON(rr)
			}
			fmt.Printf("✓ Receive request %s\n", rr.ID)
			fmt.Printf("  Account: %s (%s)\n", rr.Account, rr.Cluster)
			fmt.Printf("  Memo:    %s\n", rr.Memo)
			fmt.Printf("  URL:     %s\n", rr.PaymentURL)
			if out := c.String("qr-out"); out != "" {
				fmt.Printf("  QR code: %s\n", out)
			}
			return nil
		},
	}
}

func printPortfolio(p *client.Portfolio) {
	rule := strings.Repeat("━", 72)
	fmt.Println(rule)
	fmt.Println("Portfolio")
	fmt.Println(rule)
	if p.Session != nil {
		fmt.Printf("Account:    %s\n", p.Session.Account)
		fmt.Printf("Cluster:    %s\n", p.Session.Cluster)
	} else {
		fmt.Printf("Account:    (none)\n")
	}
	fmt.Printf("State:      %s (%d%%)\n", p.State.Phase, p.State.Progress)
	if p.State.LastError != "" {
		fmt.Printf("Last Error: %s\n", p.State.LastError)
	}
	fmt.Printf("Balance:    %s SOL (%s exact, %d lamports)\n",
		p.FormattedBalance, p.Snapshot.NativeBalanceExact, p.Snapshot.NativeLamports)
	if !p.Snapshot.RefreshedAt.IsZero() {
		fmt.Printf("Refreshed:  %s\n", p.Snapshot.RefreshedAt.Format(time.RFC3339))
	}
	fmt.Printf("Holdings:   %d (total raw %s)\n", len(p.Snapshot.Holdings), p.Snapshot.TotalRaw)
	for _, h := range p.Snapshot.Holdings {
		symbol := h.Symbol
		if symbol == "" {
			symbol = "-"
		}
		fmt.Printf("  %-6s %s  %s (decimals %d)\n", symbol, h.Mint, h.RawAmount, h.Decimals)
	}
	fmt.Println(rule)
}
