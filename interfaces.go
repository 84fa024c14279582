package ledgerbridge

import (
	"context"
	"sync/atomic"
)

// CredentialStore is the durable key-value capability tokens are mirrored
// into. Implementations are expected to return quickly and be eventually
// durable; the token manager never treats the store as the authority.
type CredentialStore interface {
	// Get returns the stored value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Connectivity reports whether the device currently has network access. When
// it returns false the executor short-circuits to a no-connection failure
// without touching the transport.
type Connectivity interface {
	Online() bool
}

// alwaysOnline is the default Connectivity when none is injected.
type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

// OnlineFlag is a Connectivity implementation the embedding application flips
// from its platform network-change notifications.
type OnlineFlag struct {
	online atomic.Bool
}

// NewOnlineFlag returns a flag in the given initial state.
func NewOnlineFlag(online bool) *OnlineFlag {
	f := &OnlineFlag{}
	f.online.Store(online)
	return f
}

func (f *OnlineFlag) Online() bool { return f.online.Load() }

// Set updates the connectivity state.
func (f *OnlineFlag) Set(online bool) { f.online.Store(online) }
