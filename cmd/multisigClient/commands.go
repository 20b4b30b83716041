package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/errors"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/eventSource"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/multisig"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/proposal"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/syncMonitor"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/txbuilder"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/types"
)

const listTimeout = 30 * time.Second

// deriveCommand prints the address a member set and threshold map to
func deriveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	chain, err := cfg.Chain()
	if err != nil {
		return err
	}

	keys, err := parsePubKeys(c.StringSlice("pubkey"))
	if err != nil {
		return err
	}
	d, err := multisig.Normalize(keys, c.Int("threshold"))
	if err != nil {
		return fmt.Errorf("failed to normalize members: %w", err)
	}
	address, err := multisig.Derive(d, chain.Prefix)
	if err != nil {
		return fmt.Errorf("failed to derive address: %w", err)
	}

	fmt.Printf("Multisig address: %s\n", address)
	fmt.Printf("Threshold: %d of %d\n", d.Threshold, len(d.PubKeys))
	return nil
}

// createCommand registers a new multisig
func createCommand(c *cli.Context) error {
	env, err := newEnvironment(c)
	if err != nil {
		return err
	}
	defer env.Close()

	keys, err := parsePubKeys(c.StringSlice("pubkey"))
	if err != nil {
		return err
	}

	account, err := env.registry.CreateMultisig(c.Context, keys, c.Int("threshold"), env.chain.Prefix, c.StringSlice("component"))
	if err != nil {
		if errors.ErrAlreadyExists.Is(err) && account != nil {
			fmt.Printf("Multisig already exists: %s\n", account.Address)
			return nil
		}
		return fmt.Errorf("failed to create multisig: %w", err)
	}

	fmt.Printf("Created multisig: %s\n", account.Address)
	return printJSON(account)
}

// showCommand prints a registered multisig and its members
func showCommand(c *cli.Context) error {
	env, err := newEnvironment(c)
	if err != nil {
		return err
	}
	defer env.Close()

	account, err := env.registry.Get(c.Context, c.String("address"))
	if err != nil {
		if errors.ErrNotFound.Is(err) {
			return fmt.Errorf("multisig %s was not created with this tool", c.String("address"))
		}
		return err
	}

	fmt.Printf("Address: %s\n", account.Address)
	fmt.Printf("Threshold: %d of %d\n", account.Descriptor.Threshold, len(account.Descriptor.PubKeys))
	for i, pk := range account.Descriptor.PubKeys {
		member, err := multisig.MemberAddress(pk.Value, account.Prefix)
		if err != nil {
			return err
		}
		fmt.Printf("  %d. %s %x\n", i+1, member, pk.Value)
	}
	return nil
}

// listCommand loads the accounts of a member through the sync monitor and
// prints one page of them
func listCommand(c *cli.Context) error {
	env, err := newEnvironment(c)
	if err != nil {
		return err
	}
	defer env.Close()

	monitor, err := syncMonitor.NewMonitor(&syncMonitor.MonitorConfig{
		Registry: env.registry,
		Sessions: &staticSession{chainID: string(env.cfg.ChainID)},
		Wallet:   &staticWallet{address: c.String("member")},
		Logger:   env.logger,
		PageSize: env.cfg.PageSize,
	})
	if err != nil {
		return err
	}
	defer monitor.Close()

	updates, unsubscribe := monitor.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(c.Context, listTimeout)
	defer cancel()

	seq := monitor.HandleEvent(ctx, eventSource.SignerChange())
	var state syncMonitor.SyncState
	for state.Seq != seq {
		select {
		case state = <-updates:
		case <-ctx.Done():
			return fmt.Errorf("timed out loading accounts for %s", c.String("member"))
		}
	}
	if state.Err != nil {
		return fmt.Errorf("failed to load accounts for %s: %w", c.String("member"), state.Err)
	}
	state = monitor.SetPage(c.Int("page"))

	visible := state.Visible()
	fmt.Printf("Member %s belongs to %d multisig(s), page %d of %d\n",
		state.Signer, state.Total(), state.Page, syncMonitor.PageCount(state.Total(), state.PageSize))
	for _, account := range visible {
		fmt.Printf("  %s (%d of %d)\n", account.Address, account.Descriptor.Threshold, len(account.Descriptor.PubKeys))
	}
	return nil
}

func proposeTransferCommand(c *cli.Context) error {
	return propose(c, func(amount, fee int64, env *environment) (*types.UnsignedTx, error) {
		return txbuilder.BuildTransfer(txbuilder.TransferRequest{
			Sender:    c.String("from"),
			Recipient: c.String("to"),
			Amount:    amount,
			Denom:     env.chain.Denom,
			Fee:       fee,
			Gas:       c.Int64("gas"),
			Memo:      c.String("memo"),
			ChainID:   string(env.cfg.ChainID),
		})
	})
}

func proposeDelegateCommand(c *cli.Context) error {
	return propose(c, func(amount, fee int64, env *environment) (*types.UnsignedTx, error) {
		return txbuilder.BuildDelegate(txbuilder.DelegateRequest{
			Sender:    c.String("from"),
			Validator: c.String("validator"),
			Amount:    amount,
			Denom:     env.chain.Denom,
			Fee:       fee,
			Gas:       c.Int64("gas"),
			Memo:      c.String("memo"),
			ChainID:   string(env.cfg.ChainID),
		})
	})
}

type buildFunc func(amount, fee int64, env *environment) (*types.UnsignedTx, error)

// propose converts display amounts, builds the transaction and submits it
func propose(c *cli.Context, build buildFunc) error {
	env, err := newEnvironment(c)
	if err != nil {
		return err
	}
	defer env.Close()

	amount, err := txbuilder.ToBaseUnits(c.String("amount"), env.chain.Exponent)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	fee, err := txbuilder.ToBaseUnits(c.String("fee"), env.chain.Exponent)
	if err != nil {
		return fmt.Errorf("invalid fee: %w", err)
	}

	tx, err := build(amount, fee, env)
	if err != nil {
		return fmt.Errorf("failed to build transaction: %w", err)
	}
	id, err := env.tracker.Submit(c.Context, tx, c.String("created-by"))
	if err != nil {
		return fmt.Errorf("failed to submit proposal: %w", err)
	}

	fmt.Printf("Proposal %s created for %s %s from %s\n",
		id, txbuilder.FromBaseUnits(amount, env.chain.Exponent), env.chain.DisplayDenom, c.String("from"))
	return nil
}

// signCommand signs a proposal with a member private key
func signCommand(c *cli.Context) error {
	env, err := newEnvironment(c)
	if err != nil {
		return err
	}
	defer env.Close()

	priv, err := ethcrypto.HexToECDSA(strings.TrimPrefix(c.String("private-key"), "0x"))
	if err != nil {
		return fmt.Errorf("invalid private key: %w", err)
	}

	p, err := env.tracker.Get(c.Context, c.String("id"))
	if err != nil {
		return err
	}
	sig, err := ethcrypto.Sign(proposal.SignDigest(p), priv)
	if err != nil {
		return fmt.Errorf("failed to sign proposal: %w", err)
	}

	pubKey := ethcrypto.CompressPubkey(&priv.PublicKey)
	p, err = env.tracker.AttachSignature(c.Context, p.ID, pubKey, sig[:64])
	if err != nil {
		return fmt.Errorf("signature rejected: %w", err)
	}

	fmt.Printf("Proposal %s is %s with %d signature(s)\n", p.ID, p.Status, len(p.Signatures))
	return nil
}

// statusCommand prints one proposal or every proposal of a multisig
func statusCommand(c *cli.Context) error {
	id, address := c.String("id"), c.String("multisig")
	if (id == "") == (address == "") {
		return fmt.Errorf("exactly one of --id or --multisig is required")
	}

	env, err := newEnvironment(c)
	if err != nil {
		return err
	}
	defer env.Close()

	if id != "" {
		p, err := env.tracker.Get(c.Context, id)
		if err != nil {
			return err
		}
		return printJSON(p)
	}

	proposals, err := env.tracker.List(c.Context, address)
	if err != nil {
		return err
	}
	fmt.Printf("%d proposal(s) for %s\n", len(proposals), address)
	for _, p := range proposals {
		fmt.Printf("  %s %s signatures=%d created_by=%s\n", p.ID, p.Status, len(p.Signatures), p.CreatedBy)
	}
	return nil
}

// broadcastCommand records the outcome of broadcasting a proposal
func broadcastCommand(c *cli.Context) error {
	txHash, rejection := c.String("tx-hash"), c.String("error")
	if (txHash == "") == (rejection == "") {
		return fmt.Errorf("exactly one of --tx-hash or --error is required")
	}

	env, err := newEnvironment(c)
	if err != nil {
		return err
	}
	defer env.Close()

	var broadcastErr error
	if rejection != "" {
		broadcastErr = fmt.Errorf("%s", rejection)
	}
	p, err := env.tracker.ReportBroadcast(c.Context, c.String("id"), txHash, broadcastErr)
	if err != nil {
		return err
	}

	fmt.Printf("Proposal %s is %s\n", p.ID, p.Status)
	return nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// staticSession is the login session of a single invocation
type staticSession struct {
	chainID string
}

func (s *staticSession) Current(ctx context.Context) (*syncMonitor.Session, error) {
	return &syncMonitor.Session{ChainID: s.chainID}, nil
}

// staticWallet reports the member passed on the command line as the signer
type staticWallet struct {
	address string
}

func (w *staticWallet) SignerAddress(ctx context.Context, chainID string) (string, error) {
	return w.address, nil
}
