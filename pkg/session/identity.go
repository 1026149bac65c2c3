package session

// IdentityKind discriminates the UserIdentityToken variants named in
// spec.md §4.4's activate_session contract.
type IdentityKind int

const (
	IdentityAnonymous IdentityKind = iota
	IdentityUsernamePassword
	IdentityX509
)

func (k IdentityKind) String() string {
	switch k {
	case IdentityAnonymous:
		return "Anonymous"
	case IdentityUsernamePassword:
		return "UsernamePassword"
	case IdentityX509:
		return "X509"
	default:
		return "Unknown"
	}
}

// UserIdentityToken is the closed set of identity proofs a client may
// present at activation time.
type UserIdentityToken struct {
	Kind        IdentityKind
	PolicyID    string
	Username    string
	Password    []byte
	Certificate []byte
}

// validateStructure checks the token is well-formed for its kind; it does
// not authenticate the identity against any user store (spec.md's
// Non-goals place application-level authorization outside this core —
// see the Validator hook on ManagerConfig).
func (t UserIdentityToken) validateStructure() error {
	switch t.Kind {
	case IdentityAnonymous:
		return nil
	case IdentityUsernamePassword:
		if t.Username == "" || len(t.Password) == 0 {
			return ErrIdentityTokenInvalid
		}
		return nil
	case IdentityX509:
		if len(t.Certificate) == 0 {
			return ErrIdentityTokenInvalid
		}
		return nil
	default:
		return ErrIdentityTokenInvalid
	}
}

// Validator authorizes a structurally-valid identity token; it is the
// application façade's hook into activate_session (spec.md's Non-goal:
// "this core does not implement application services themselves"). The
// default in ManagerConfig accepts every structurally-valid token.
type Validator func(UserIdentityToken) error

func acceptAll(UserIdentityToken) error { return nil }
