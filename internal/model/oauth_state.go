package model

import "time"

// OAuthState is one anti-CSRF state value issued at the start of an
// authorization redirect. ConsumedAt is nil until the callback uses it.
type OAuthState struct {
	State      string     `json:"-"          db:"state"`
	CreatedAt  time.Time  `json:"createdAt"  db:"created_at"`
	ConsumedAt *time.Time `json:"consumedAt" db:"consumed_at"`
}

// StateOutcome is the result of consuming a state value.
type StateOutcome int

const (
	// StateConsumed: first use, within TTL. The callback may proceed.
	StateConsumed StateOutcome = iota
	// StateDuplicate: already consumed within the replay window. Treated as
	// a duplicate delivery of the same redirect; no work is done.
	StateDuplicate
	// StateReplayed: consumed earlier than the replay window allows.
	StateReplayed
	// StateExpired: issued but never consumed within TTL.
	StateExpired
	// StateUnknown: never issued (or already purged).
	StateUnknown
)

func (o StateOutcome) String() string {
	switch o {
	case StateConsumed:
		return "consumed"
	case StateDuplicate:
		return "duplicate"
	case StateReplayed:
		return "replayed"
	case StateExpired:
		return "expired"
	case StateUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}
