package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/folio/client"
	"github.com/urfave/cli/v2"
)

// errMatched stops the stream once an --until-jq filter matches.
var errMatched = errors.New("event matched")

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream portfolio events via SSE (HTTP)",
		ArgsUsage: "[account_address]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "until-jq",
				Usage: "Exit after the first event for which every jq filter is truthy (repeatable)",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "Stop streaming after this long (0 streams until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			account := c.Args().First()
			jsonOutput := c.Bool("json")

			until, err := compileJQ(c.StringSlice("until-jq"))
			if err != nil {
				return err
			}

			cl, err := newClient(c)
			if err != nil {
				return err
			}

			// Create context that cancels on interrupt
			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()
			if timeout := c.Duration("timeout"); timeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				select {
				case <-sigChan:
					cancel()
				case <-ctx.Done():
				}
			}()

			if !jsonOutput {
				if account != "" {
					fmt.Fprintf(os.Stderr, "Connecting to SSE stream for account: %s\n", account)
				} else {
					fmt.Fprintf(os.Stderr, "Connecting to SSE stream for all accounts\n")
				}
				fmt.Fprintf(os.Stderr, "Streaming portfolio events... (Ctrl+C to stop)\n\n")
			}

			var matched *client.Event
			err = cl.Stream(ctx, account, func(e client.Event) error {
				if err := handleEvent(e, jsonOutput); err != nil {
					fmt.Fprintf(os.Stderr, "Error handling event: %v\n", err)
				}
				if len(until) > 0 && e.Type != "connected" && matchesAll(until, e) {
					matched = &e
					return errMatched
				}
				return nil
			})

			switch {
			case errors.Is(err, errMatched):
				return nil
			case err != nil:
				return err
			case len(until) > 0 && matched == nil && ctx.Err() == context.DeadlineExceeded:
				return fmt.Errorf("no matching event before timeout")
			}

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "\nDisconnected\n")
			}
			return nil
		},
	}
}

func handleEvent(e client.Event, jsonOutput bool) error {
	switch e.Type {
	case "connected":
		if !jsonOutput {
			fmt.Fprintf(os.Stderr, "✓ Subscribed to %s\n\n", e.Account)
		}
		return nil

	case "state", "snapshot":
		if jsonOutput {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}
		printEvent(e)
		return nil

	default:
		// Unknown event type, ignore
		return nil
	}
}

func printEvent(e client.Event) {
	ts := e.PublishedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	prefix := fmt.Sprintf("[%s] %s", ts.Format("15:04:05"), e.Account)

	switch {
	case e.State != nil:
		line := fmt.Sprintf("%s state=%s progress=%d%%", prefix, e.State.Phase, e.State.Progress)
		if e.State.LastError != "" {
			line += " error=" + e.State.LastError
		}
		fmt.Println(line)
	case e.Snapshot != nil:
		fmt.Printf("%s snapshot #%d balance=%s SOL holdings=%d\n",
			prefix, e.Snapshot.FetchedAt, e.Snapshot.NativeBalanceExact, len(e.Snapshot.Holdings))
	}
}
