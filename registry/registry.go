// Package registry maps chat users to their stored Skland tokens and tracks
// which users are enrolled in which group chats.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Identity is the chat-platform user id.
type Identity string

var ErrEmptyToken = errors.New("token is empty")

// Account is a user's stored token. Seq is the registration order; it is
// kept when the token is replaced and reassigned after a logout.
type Account struct {
	Identity    Identity
	Token       string
	DisplayName string
	Seq         uint64
	BoundAt     time.Time
}

// Store is the key-value backend. Put and Delete must be atomic per identity.
// List and Members return entries in insertion order.
type Store interface {
	Get(ctx context.Context, id Identity) (Account, bool, error)
	Put(ctx context.Context, id Identity, token, displayName string, boundAt time.Time) error
	Delete(ctx context.Context, id Identity) (bool, error)
	// DeleteIfToken removes id only while it still holds token.
	DeleteIfToken(ctx context.Context, id Identity, token string) (bool, error)
	List(ctx context.Context) ([]Account, error)
	AddMember(ctx context.Context, group string, id Identity) error
	Members(ctx context.Context, group string) ([]Identity, error)
}

type ScopeKind int

const (
	ScopeUser ScopeKind = iota
	ScopeGroup
	ScopeAll
)

type Scope struct {
	Kind  ScopeKind
	User  Identity
	Group string
}

func SingleUser(id Identity) Scope { return Scope{Kind: ScopeUser, User: id} }
func Group(id string) Scope        { return Scope{Kind: ScopeGroup, Group: id} }
func AllUsers() Scope              { return Scope{Kind: ScopeAll} }

type Registry struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

func (r *Registry) GetToken(ctx context.Context, id Identity) (string, bool, error) {
	acc, ok, err := r.store.Get(ctx, id)
	if err != nil {
		return "", false, fmt.Errorf("get token: %w", err)
	}
	if !ok || acc.Token == "" {
		return "", false, nil
	}
	return acc.Token, true, nil
}

// SetToken stores token for id, replacing any previous one.
func (r *Registry) SetToken(ctx context.Context, id Identity, token, displayName string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	if err := r.store.Put(ctx, id, token, displayName, r.now()); err != nil {
		return fmt.Errorf("set token: %w", err)
	}
	return nil
}

// RemoveToken deletes the token for id. Removing an absent token is not an
// error; the bool reports whether one existed.
func (r *Registry) RemoveToken(ctx context.Context, id Identity) (bool, error) {
	removed, err := r.store.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("remove token: %w", err)
	}
	return removed, nil
}

// RemoveTokenIf deletes the token for id only if it is still token. A token
// replaced since it was read is left alone.
func (r *Registry) RemoveTokenIf(ctx context.Context, id Identity, token string) (bool, error) {
	removed, err := r.store.DeleteIfToken(ctx, id, token)
	if err != nil {
		return false, fmt.Errorf("remove token: %w", err)
	}
	return removed, nil
}

func (r *Registry) JoinGroup(ctx context.Context, group string, id Identity) error {
	if err := r.store.AddMember(ctx, group, id); err != nil {
		return fmt.Errorf("join group: %w", err)
	}
	return nil
}

// ListUsersWithTokens returns the accounts in scope that hold a token,
// ordered by registration.
func (r *Registry) ListUsersWithTokens(ctx context.Context, scope Scope) ([]Account, error) {
	switch scope.Kind {
	case ScopeUser:
		acc, ok, err := r.store.Get(ctx, scope.User)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		if !ok || acc.Token == "" {
			return nil, nil
		}
		return []Account{acc}, nil

	case ScopeGroup:
		members, err := r.store.Members(ctx, scope.Group)
		if err != nil {
			return nil, fmt.Errorf("list group members: %w", err)
		}
		if len(members) == 0 {
			return nil, nil
		}
		inGroup := make(map[Identity]bool, len(members))
		for _, m := range members {
			inGroup[m] = true
		}
		all, err := r.store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		var out []Account
		for _, acc := range all {
			if inGroup[acc.Identity] && acc.Token != "" {
				out = append(out, acc)
			}
		}
		return out, nil

	case ScopeAll:
		all, err := r.store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		var out []Account
		for _, acc := range all {
			if acc.Token != "" {
				out = append(out, acc)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown scope kind %d", scope.Kind)
}
