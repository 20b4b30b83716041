package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/config"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/txbuilder"
)

func main() {
	app := &cli.App{
		Name:  "multisig-client",
		Usage: "Threshold multisig coordinator for Cosmos SDK chains",
		Description: `A client for creating threshold multisig accounts and coordinating their transactions.

This client can:
- Derive the address of a multisig from its member keys and threshold
- Register multisigs and list the ones a member belongs to
- Propose transfers and delegations, collect member signatures and record broadcasts`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "persistence",
				Usage:   "Store type: memory, badger or redis",
				EnvVars: []string{config.EnvMultisigPersistence},
			},
			&cli.StringFlag{
				Name:    "data-path",
				Usage:   "Badger data directory",
				EnvVars: []string{config.EnvMultisigDataPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis address (host:port)",
				EnvVars: []string{config.EnvMultisigRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvMultisigRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				EnvVars: []string{config.EnvMultisigRedisDB},
			},
			&cli.StringFlag{
				Name:    "backend-url",
				Usage:   "Multisig REST backend URL; accounts are registered there when set",
				EnvVars: []string{config.EnvMultisigBackendURL},
			},
			&cli.StringFlag{
				Name:    "chain-id",
				Usage:   "Chain ID. Supported: " + config.GetSupportedChainIDsString(),
				EnvVars: []string{config.EnvMultisigChainID},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				EnvVars: []string{config.EnvMultisigDebug},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "derive",
				Usage: "Derive a multisig address without registering it",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "pubkey",
						Usage:    "Compressed secp256k1 member key (hex or base64), repeat for each member",
						Required: true,
					},
					&cli.IntFlag{
						Name:     "threshold",
						Usage:    "Number of signatures required",
						Required: true,
					},
				},
				Action: deriveCommand,
			},
			{
				Name:  "create",
				Usage: "Create and register a multisig",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "pubkey",
						Usage:    "Compressed secp256k1 member key (hex or base64), repeat for each member",
						Required: true,
					},
					&cli.IntFlag{
						Name:     "threshold",
						Usage:    "Number of signatures required",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "component",
						Usage: "Member label (defaults to the member addresses)",
					},
				},
				Action: createCommand,
			},
			{
				Name:  "show",
				Usage: "Show a registered multisig",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "address",
						Usage:    "Multisig address",
						Required: true,
					},
				},
				Action: showCommand,
			},
			{
				Name:  "list",
				Usage: "List the multisigs a member belongs to",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "member",
						Usage:    "Member address",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "page",
						Usage: "Page number, starting at 1",
						Value: 1,
					},
					&cli.IntFlag{
						Name:    "page-size",
						Usage:   "Accounts per page",
						EnvVars: []string{config.EnvMultisigPageSize},
					},
				},
				Action: listCommand,
			},
			{
				Name:   "propose-transfer",
				Usage:  "Propose a transfer from a multisig",
				Flags:  append(proposalFlags(), &cli.StringFlag{Name: "to", Usage: "Recipient address", Required: true}),
				Action: proposeTransferCommand,
			},
			{
				Name:   "propose-delegate",
				Usage:  "Propose a delegation from a multisig",
				Flags:  append(proposalFlags(), &cli.StringFlag{Name: "validator", Usage: "Validator operator address", Required: true}),
				Action: proposeDelegateCommand,
			},
			{
				Name:  "sign",
				Usage: "Sign a proposal with a member key",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Proposal ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "private-key",
						Usage:    "Member secp256k1 private key (hex)",
						EnvVars:  []string{"MULTISIG_SIGNER_KEY"},
						Required: true,
					},
				},
				Action: signCommand,
			},
			{
				Name:  "status",
				Usage: "Show a proposal, or every proposal of a multisig",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "id",
						Usage: "Proposal ID",
					},
					&cli.StringFlag{
						Name:  "multisig",
						Usage: "Multisig address",
					},
				},
				Action: statusCommand,
			},
			{
				Name:  "broadcast",
				Usage: "Record the broadcast result of a fully signed proposal",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Proposal ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "tx-hash",
						Usage: "Hash of the accepted transaction",
					},
					&cli.StringFlag{
						Name:  "error",
						Usage: "Rejection message when the broadcast failed",
					},
				},
				Action: broadcastCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func proposalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "from",
			Usage:    "Multisig address",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "amount",
			Usage:    "Amount in display units, e.g. 1.5 for 1.5 atom",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "fee",
			Usage: "Fee in display units",
			Value: "0",
		},
		&cli.Int64Flag{
			Name:  "gas",
			Usage: "Gas limit",
			Value: txbuilder.DefaultGas,
		},
		&cli.StringFlag{
			Name:  "memo",
			Usage: "Transaction memo",
		},
		&cli.StringFlag{
			Name:     "created-by",
			Usage:    "Member address of the proposer",
			Required: true,
		},
	}
}
