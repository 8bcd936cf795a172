// Package session owns the client-side authentication lifecycle: it holds
// the bearer credentials, decides when they are still usable, refreshes
// them before expiry, serializes concurrent refresh attempts, and tears the
// session down when a refresh is rejected. Exactly one Manager exists per
// running client; everything that needs a token asks it.
package session

// State is the session lifecycle state. SignedIn does not imply the access
// token is currently valid; validity is re-evaluated on demand against the
// clock rather than stored.
type State string

const (
	StateSignedOut  State = "signed_out"
	StateSignedIn   State = "signed_in"
	StateRefreshing State = "refreshing"
)
