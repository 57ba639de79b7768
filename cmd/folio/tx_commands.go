package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/brojonat/folio/client"
	"github.com/urfave/cli/v2"
)

func txCommands() *cli.Command {
	return &cli.Command{
		Name:    "tx",
		Aliases: []string{"transaction"},
		Usage:   "Submit transactions signed by the server's signer",
		Subcommands: []*cli.Command{
			memoCommand(),
			transferCommand(),
			instructionCommand(),
		},
	}
}

func memoCommand() *cli.Command {
	return &cli.Command{
		Name:      "memo",
		Usage:     "Submit a memo instruction",
		ArgsUsage: "TEXT",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("memo text is required")
			}
			return submit(c, client.TransactionRequest{
				Type: "memo",
				Memo: strings.Join(c.Args().Slice(), " "),
			})
		},
	}
}

func transferCommand() *cli.Command {
	return &cli.Command{
		Name:      "transfer",
		Usage:     "Transfer lamports from the service signer",
		ArgsUsage: "RECIPIENT LAMPORTS",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("recipient and lamports are required")
			}
			lamports, err := strconv.ParseUint(c.Args().Get(1), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid lamports %q: %w", c.Args().Get(1), err)
			}
			return submit(c, client.TransactionRequest{
				Type:      "transfer",
				Recipient: c.Args().Get(0),
				Lamports:  lamports,
			})
		},
	}
}

func instructionCommand() *cli.Command {
	return &cli.Command{
		Name:      "instruction",
		Aliases:   []string{"ix"},
		Usage:     "Submit an arbitrary instruction",
		ArgsUsage: "PROGRAM_ID",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "account",
				Aliases: []string{"a"},
				Usage:   "Account meta as PUBKEY[:s][:w] (s = signer, w = writable); repeatable, in order",
			},
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "Instruction data, base64 encoded",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("program id is required")
			}

			accounts := make([]client.AccountMeta, 0, len(c.StringSlice("account")))
			for _, spec := range c.StringSlice("account") {
				meta, err := parseAccountMeta(spec)
				if err != nil {
					return err
				}
				accounts = append(accounts, meta)
			}

			return submit(c, client.TransactionRequest{
				Type:      "instruction",
				ProgramID: c.Args().Get(0),
				Accounts:  accounts,
				Data:      c.String("data"),
			})
		},
	}
}

// parseAccountMeta parses PUBKEY[:s][:w].
func parseAccountMeta(spec string) (client.AccountMeta, error) {
	parts := strings.Split(spec, ":")
	if parts[0] == "" {
		return client.AccountMeta{}, fmt.Errorf("invalid account %q: missing pubkey", spec)
	}

	meta := client.AccountMeta{PublicKey: parts[0]}
	for _, flag := range parts[1:] {
		switch flag {
		case "s":
			meta.IsSigner = true
		case "w":
			meta.IsWritable = true
		default:
			return client.AccountMeta{}, fmt.Errorf("invalid account %q: unknown flag %q", spec, flag)
		}
	}
	return meta, nil
}

func submit(c *cli.Context, req client.TransactionRequest) error {
	cl, err := newClient(c)
	if err != nil {
		return err
	}

	result, err := cl.SubmitTransaction(c.Context, req)
	if err != nil {
		return fmt.Errorf("failed to submit transaction: %w", err)
	}

	if c.Bool("json") {
		return outputJSON(result)
	}
	fmt.Printf("✓ Transaction submitted\n")
	fmt.Printf("  Signature: %s\n", result.Signature)
	fmt.Printf("  Fee Payer: %s\n", result.FeePayer)
	return nil
}
