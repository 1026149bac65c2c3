package securechannel

import (
	"time"

	"github.com/systerel/s2opc-go/pkg/crypto"
)

// SecurityToken is the symmetric key set + lifetime issued by an OPN
// response, per spec.md §3.1. A channel holds at most a current and a
// previous token during renewal overlap.
type SecurityToken struct {
	TokenID    uint32
	CreatedAt  time.Time
	Lifetime   time.Duration
	Keys       crypto.ChannelKeySet
}

// Expired reports whether the token's revised lifetime has elapsed.
func (t SecurityToken) Expired(now time.Time) bool {
	return now.Sub(t.CreatedAt) >= t.Lifetime
}

// RemainingFraction returns the fraction (0..1) of lifetime left. A
// renewal is due once this drops to 25% per spec.md §4.3's transition
// table ("token lifetime ≤ 25% remaining").
func (t SecurityToken) RemainingFraction(now time.Time) float64 {
	if t.Lifetime <= 0 {
		return 0
	}
	elapsed := now.Sub(t.CreatedAt)
	remaining := t.Lifetime - elapsed
	if remaining <= 0 {
		return 0
	}
	return float64(remaining) / float64(t.Lifetime)
}

// RenewalThreshold is the remaining-lifetime fraction that triggers an
// automatic OPN renew on the client side.
const RenewalThreshold = 0.25

// DueForRenewal reports whether the client should issue a renew now.
func (t SecurityToken) DueForRenewal(now time.Time) bool {
	return t.RemainingFraction(now) <= RenewalThreshold
}
