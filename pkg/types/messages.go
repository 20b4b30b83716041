package types

import (
	"encoding/json"
	"fmt"
)

// Message type urls
const (
	TypeURLMsgSend     = "/cosmos.bank.v1beta1.MsgSend"
	TypeURLMsgDelegate = "/cosmos.staking.v1beta1.MsgDelegate"
)

// Coin is an amount in base units. Amount is a decimal integer string.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// StdFee is the fee and gas limit of a transaction
type StdFee struct {
	Amount []Coin `json:"amount"`
	Gas    string `json:"gas"`
}

// Msg is one message of a transaction. Value holds the JSON of the typed message.
type Msg struct {
	TypeURL string          `json:"typeUrl"`
	Value   json.RawMessage `json:"value"`
}

// MsgSend transfers coins between accounts
type MsgSend struct {
	FromAddress string `json:"fromAddress"`
	ToAddress   string `json:"toAddress"`
	Amount      []Coin `json:"amount"`
}

// MsgDelegate delegates coins to a validator
type MsgDelegate struct {
	DelegatorAddress string `json:"delegatorAddress"`
	ValidatorAddress string `json:"validatorAddress"`
	Amount           Coin   `json:"amount"`
}

// UnsignedTx is the serializable body of a proposed transaction
type UnsignedTx struct {
	ChainID string `json:"chainId"`
	Msgs    []Msg  `json:"msgs"`
	Fee     StdFee `json:"fee"`
	Memo    string `json:"memo"`
}

// DecodeMsgSend returns the MsgSend carried by msg
func DecodeMsgSend(msg Msg) (*MsgSend, error) {
	if msg.TypeURL != TypeURLMsgSend {
		return nil, fmt.Errorf("unexpected message type %s", msg.TypeURL)
	}
	var m MsgSend
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal MsgSend: %w", err)
	}
	return &m, nil
}

// DecodeMsgDelegate returns the MsgDelegate carried by msg
func DecodeMsgDelegate(msg Msg) (*MsgDelegate, error) {
	if msg.TypeURL != TypeURLMsgDelegate {
		return nil, fmt.Errorf("unexpected message type %s", msg.TypeURL)
	}
	var m MsgDelegate
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal MsgDelegate: %w", err)
	}
	return &m, nil
}

// MarshalUnsignedTx serializes a transaction body for storage
func MarshalUnsignedTx(tx *UnsignedTx) (string, error) {
	if tx == nil {
		return "", fmt.Errorf("cannot marshal nil UnsignedTx")
	}
	data, err := json.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("failed to marshal UnsignedTx to JSON: %w", err)
	}
	return string(data), nil
}

// UnmarshalUnsignedTx parses a stored transaction body
func UnmarshalUnsignedTx(data string) (*UnsignedTx, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}
	var tx UnsignedTx
	if err := json.Unmarshal([]byte(data), &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to UnsignedTx: %w", err)
	}
	return &tx, nil
}

// Signer returns the account every message is sent from. All messages of a
// proposal must share one signer, the multisig.
func (tx *UnsignedTx) Signer() (string, error) {
	if tx == nil || len(tx.Msgs) == 0 {
		return "", fmt.Errorf("transaction has no messages")
	}
	var signer string
	for i, msg := range tx.Msgs {
		var from string
		switch msg.TypeURL {
		case TypeURLMsgSend:
			m, err := DecodeMsgSend(msg)
			if err != nil {
				return "", err
			}
			from = m.FromAddress
		case TypeURLMsgDelegate:
			m, err := DecodeMsgDelegate(msg)
			if err != nil {
				return "", err
			}
			from = m.DelegatorAddress
		default:
			return "", fmt.Errorf("message %d: unsupported type %s", i, msg.TypeURL)
		}
		if i > 0 && from != signer {
			return "", fmt.Errorf("message %d is signed by %s, expected %s", i, from, signer)
		}
		signer = from
	}
	return signer, nil
}
