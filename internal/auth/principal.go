package auth

// Principal is the caller identity resolved by the authentication layer. The
// ledger core only compares UserID values and reads the Admin capability.
type Principal struct {
	UserID string
	Admin  bool
}

// Authenticated reports whether the principal carries an identity.
func (p Principal) Authenticated() bool {
	return p.UserID != ""
}
