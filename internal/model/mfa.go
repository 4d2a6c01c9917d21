package model

// MFAState is the per-session continuation record created the moment primary
// credentials succeed. It lives exactly as long as the session and is the
// server-side source of truth for whether protected operations may proceed;
// hiding controls in a UI is not a security boundary.
type MFAState struct {
	Required  bool   `json:"required"`
	FactorID  string `json:"factor_id,omitempty"`
	Satisfied bool   `json:"satisfied"`
}

// Pending reports whether protected operations must be refused until a
// second-factor proof clears.
func (s MFAState) Pending() bool {
	return s.Required && !s.Satisfied
}
