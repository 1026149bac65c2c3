// Package chunk implements the chunk manager: splitting outbound
// messages into length-bounded, security-processed chunks and
// reassembling inbound chunks into complete messages, per spec.md §4.2.
package chunk

// SecurityMode selects the per-chunk security processing applied on
// top of the wire framing.
type SecurityMode int

const (
	// ModeNone applies no signature and no encryption; OPN chunks still
	// carry certificate fields, but the body stays cleartext.
	ModeNone SecurityMode = iota
	// ModeSign appends a trailing signature computed over the chunk
	// prefix; verification is mandatory on receipt.
	ModeSign
	// ModeSignAndEncrypt pads the body to the cipher block size,
	// encrypts it, then signs the result.
	ModeSignAndEncrypt
)

func (m SecurityMode) String() string {
	switch m {
	case ModeNone:
		return "None"
	case ModeSign:
		return "Sign"
	case ModeSignAndEncrypt:
		return "SignAndEncrypt"
	default:
		return "Unknown"
	}
}
