package bech32

import (
	"github.com/btcsuite/btcutil/bech32"
	"github.com/pkg/errors"
)

// Decode converts given bech32 encoded representation into raw payload and a
// human readable part.
func Decode(raw string) (string, []byte, error) {
	hrp, payload, err := bech32.Decode(raw)
	if err != nil {
		return "", nil, errors.Wrap(err, "bech32 decode")
	}
	payload, err = bech32.ConvertBits(payload, 5, 8, false)
	if err != nil {
		return "", nil, errors.Wrap(err, "convert bits")
	}
	return hrp, payload, nil
}

// Encode converts given bytes into bech32 encoded representation.
func Encode(hrp string, payload []byte) (string, error) {
	converted, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", errors.Wrap(err, "convert bits")
	}
	raw, err := bech32.Encode(hrp, converted)
	if err != nil {
		return "", errors.Wrap(err, "bech32 encode")
	}
	return raw, nil
}

// ValidateAddress checks that addr is bech32 with the expected human readable
// part and a 20 or 32 byte payload.
func ValidateAddress(addr string, hrp string) error {
	got, payload, err := Decode(addr)
	if err != nil {
		return err
	}
	if hrp != "" && got != hrp {
		return errors.Errorf("unexpected prefix %q, want %q", got, hrp)
	}
	if len(payload) != 20 && len(payload) != 32 {
		return errors.Errorf("unexpected payload length %d", len(payload))
	}
	return nil
}
