package otp

import (
	"context"
	"errors"

	"marketplace-gateway/internal/errs"
	"marketplace-gateway/internal/idp"
)

// ProviderDirectory adapts the identity provider's privileged user lookup to
// the AccountDirectory contract.
type ProviderDirectory struct {
	provider idp.Provider
}

func NewProviderDirectory(provider idp.Provider) *ProviderDirectory {
	return &ProviderDirectory{provider: provider}
}

func (d *ProviderDirectory) HasAccount(ctx context.Context, email string) (bool, error) {
	_, err := d.provider.AdminUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
