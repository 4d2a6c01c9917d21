package idp

import "context"

// PasswordService folds the privileged lookup and update into the single
// email-keyed operation the reset flow performs.
type PasswordService struct {
	provider Provider
}

func NewPasswordService(provider Provider) *PasswordService {
	return &PasswordService{provider: provider}
}

// AdminUpdatePasswordByEmail sets a new password for the account behind the
// email. A missing account surfaces as a not-found error; this path runs
// after OTP verification, so revealing existence here is acceptable.
func (s *PasswordService) AdminUpdatePasswordByEmail(ctx context.Context, email, newPassword string) error {
	user, err := s.provider.AdminUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	return s.provider.AdminUpdatePassword(ctx, user.ID, newPassword)
}
