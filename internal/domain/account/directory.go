package account

import (
	"context"

	"github.com/clinicportal/portal/internal/platform/auth"
)

type revocationDirectory struct {
	store *auth.RevocationStore
}

// NewRevocationDirectory disables identities by blocking them in the token
// revocation store, so every token the issuer already minted is refused.
func NewRevocationDirectory(store *auth.RevocationStore) Directory {
	return &revocationDirectory{store: store}
}

func (d *revocationDirectory) SetDisabled(_ context.Context, uid string, disabled bool) error {
	if disabled {
		d.store.Block(uid)
	} else {
		d.store.Unblock(uid)
	}
	return nil
}
