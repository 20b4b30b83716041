// Package txbuilder assembles unsigned bank and staking transactions for a
// multisig account. Nothing here performs I/O.
package txbuilder

import (
	"encoding/json"
	"strconv"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/bech32"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/errors"
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/types"
)

// DefaultGas is used by callers that leave gas unset
const DefaultGas = 200000

// TransferRequest describes a bank send from the multisig
type TransferRequest struct {
	Sender    string
	Recipient string
	Amount    int64 // base units
	Denom     string
	Fee       int64 // base units
	Gas       int64
	Memo      string
	ChainID   string
}

// DelegateRequest describes a delegation from the multisig to a validator
type DelegateRequest struct {
	Sender    string
	Validator string
	Amount    int64 // base units
	Denom     string
	Fee       int64 // base units
	Gas       int64
	Memo      string
	ChainID   string
}

// BuildTransfer returns the unsigned MsgSend transaction for req
func BuildTransfer(req TransferRequest) (*types.UnsignedTx, error) {
	if err := validateCommon(req.Sender, req.Denom, req.ChainID, req.Amount, req.Fee, req.Gas); err != nil {
		return nil, err
	}
	if err := bech32.ValidateAddress(req.Recipient, ""); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "recipient: "+err.Error())
	}

	msg := types.MsgSend{
		FromAddress: req.Sender,
		ToAddress:   req.Recipient,
		Amount:      []types.Coin{coin(req.Amount, req.Denom)},
	}
	return newTx(types.TypeURLMsgSend, msg, req.Denom, req.Fee, req.Gas, req.Memo, req.ChainID)
}

// BuildDelegate returns the unsigned MsgDelegate transaction for req
func BuildDelegate(req DelegateRequest) (*types.UnsignedTx, error) {
	if err := validateCommon(req.Sender, req.Denom, req.ChainID, req.Amount, req.Fee, req.Gas); err != nil {
		return nil, err
	}
	if err := bech32.ValidateAddress(req.Validator, ""); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "validator: "+err.Error())
	}

	msg := types.MsgDelegate{
		DelegatorAddress: req.Sender,
		ValidatorAddress: req.Validator,
		Amount:           coin(req.Amount, req.Denom),
	}
	return newTx(types.TypeURLMsgDelegate, msg, req.Denom, req.Fee, req.Gas, req.Memo, req.ChainID)
}

func validateCommon(sender, denom, chainID string, amount, fee, gas int64) error {
	if amount < 0 {
		return errors.ErrNegativeAmount.Newf("amount %d", amount)
	}
	if fee < 0 {
		return errors.ErrNegativeAmount.Newf("fee %d", fee)
	}
	if gas < 0 {
		return errors.ErrNegativeAmount.Newf("gas %d", gas)
	}
	if amount == 0 {
		return errors.ErrEmptyAmount.New("amount must be greater than zero")
	}
	if denom == "" {
		return errors.ErrInvalidInput.New("denom is required")
	}
	if chainID == "" {
		return errors.ErrInvalidInput.New("chain id is required")
	}
	if err := bech32.ValidateAddress(sender, ""); err != nil {
		return errors.Wrap(errors.ErrInvalidInput, "sender: "+err.Error())
	}
	return nil
}

func coin(amount int64, denom string) types.Coin {
	return types.Coin{
		Denom:  denom,
		Amount: strconv.FormatInt(amount, 10),
	}
}

func newTx(typeURL string, msg interface{}, denom string, fee, gas int64, memo, chainID string) (*types.UnsignedTx, error) {
	value, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal message")
	}
	return &types.UnsignedTx{
		ChainID: chainID,
		Msgs:    []types.Msg{{TypeURL: typeURL, Value: value}},
		Fee: types.StdFee{
			Amount: []types.Coin{coin(fee, denom)},
			Gas:    strconv.FormatInt(gas, 10),
		},
		Memo: memo,
	}, nil
}
