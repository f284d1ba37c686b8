package checkin

import (
	"time"

	"skland-checkin-bot/registry"
)

type UserState string

const (
	StateOK UserState = "ok"
	// StateNotBound: no token stored for the user.
	StateNotBound UserState = "not_bound"
	// StateRevoked: the identity service rejected the stored token.
	StateRevoked UserState = "revoked"
	// StateFailed: the exchange failed for a transient reason.
	StateFailed UserState = "failed"
)

type UserReport struct {
	Account  registry.Account
	State    UserState
	Nickname string
	Message  string
	Results  []Result
}

// Unbound reports whether the user ends up without a usable token.
func (u UserReport) Unbound() bool {
	return u.State == StateNotBound || u.State == StateRevoked
}

// Name is the best label for the user: the game nickname, then the chat
// display name, then the raw identity.
func (u UserReport) Name() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	if u.Account.DisplayName != "" {
		return u.Account.DisplayName
	}
	return string(u.Account.Identity)
}

// StatusReport is ordered by registration order, then binding discovery order.
type StatusReport struct {
	RunID string
	At    time.Time
	Users []UserReport
}

type Entry struct {
	User   registry.Identity
	Result Result
}

// Results flattens the report into (user, binding) order.
func (r *StatusReport) Results() []Entry {
	var out []Entry
	for _, u := range r.Users {
		for _, res := range u.Results {
			out = append(out, Entry{User: u.Account.Identity, Result: res})
		}
	}
	return out
}

// Revoked lists users whose tokens were rejected.
func (r *StatusReport) Revoked() []registry.Identity {
	var out []registry.Identity
	for _, u := range r.Users {
		if u.State == StateRevoked {
			out = append(out, u.Account.Identity)
		}
	}
	return out
}
