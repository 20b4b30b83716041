package persistence

import (
	"github.com/Layr-Labs/eigenx-multisig-go/pkg/errors"
)

// StoreError keeps typed errors as they are and reports anything else a
// backend returned as ErrStoreUnavailable, so callers can retry it.
func StoreError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.KindOf(err) != errors.KindInternal {
		return err
	}
	return errors.Wrapf(errors.ErrStoreUnavailable, "%s: %v", msg, err)
}
