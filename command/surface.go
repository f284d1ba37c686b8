// Package command composes the registry and the aggregator into the
// login, logout and status entry points used by the chat adapter.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"skland-checkin-bot/checkin"
	"skland-checkin-bot/registry"
)

type Reporter interface {
	Report(ctx context.Context, scope registry.Scope) (*checkin.StatusReport, error)
}

// Chat describes where a command was issued. An empty GroupID is a private chat.
type Chat struct {
	GroupID string
}

func (c Chat) Private() bool { return c.GroupID == "" }

// StatusReply is the result of a status query.
type StatusReply struct {
	Report      *checkin.StatusReport
	Group       bool
	SenderBound bool
}

type Surface struct {
	registry *registry.Registry
	reporter Reporter
	logger   *slog.Logger
}

func NewSurface(reg *registry.Registry, reporter Reporter, logger *slog.Logger) *Surface {
	return &Surface{registry: reg, reporter: reporter, logger: logger}
}

// Login stores token for user and immediately runs a live check-in.
// A token the identity service rejects is removed again.
func (s *Surface) Login(ctx context.Context, user registry.Identity, displayName, token string) (*checkin.UserReport, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, registry.ErrEmptyToken
	}
	if err := s.registry.SetToken(ctx, user, token, displayName); err != nil {
		return nil, err
	}
	s.logger.Info("token bound", slog.String("user", string(user)))

	report, err := s.reporter.Report(ctx, registry.SingleUser(user))
	if err != nil {
		return nil, fmt.Errorf("login check-in: %w", err)
	}
	s.unbindRevoked(ctx, report)

	if len(report.Users) == 0 {
		return nil, fmt.Errorf("login check-in: token for %s vanished", user)
	}
	ur := report.Users[0]
	return &ur, nil
}

// Logout removes the user's token. It succeeds whether or not one existed.
func (s *Surface) Logout(ctx context.Context, user registry.Identity) (bool, error) {
	removed, err := s.registry.RemoveToken(ctx, user)
	if err != nil {
		return false, err
	}
	if removed {
		s.logger.Info("token removed", slog.String("user", string(user)))
	}
	return removed, nil
}

// Status checks in the sender (private chat) or every bound member of the
// group. In a group a bound sender is enrolled first.
func (s *Surface) Status(ctx context.Context, user registry.Identity, chat Chat) (*StatusReply, error) {
	_, bound, err := s.registry.GetToken(ctx, user)
	if err != nil {
		return nil, err
	}
	reply := &StatusReply{Group: !chat.Private(), SenderBound: bound}

	if chat.Private() {
		if !bound {
			reply.Report = &checkin.StatusReport{Users: []checkin.UserReport{{
				Account: registry.Account{Identity: user},
				State:   checkin.StateNotBound,
			}}}
			return reply, nil
		}
		reply.Report, err = s.reporter.Report(ctx, registry.SingleUser(user))
	} else {
		if bound {
			if err := s.registry.JoinGroup(ctx, chat.GroupID, user); err != nil {
				return nil, err
			}
		}
		reply.Report, err = s.reporter.Report(ctx, registry.Group(chat.GroupID))
	}
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	unbound := s.unbindRevoked(ctx, reply.Report)
	if chat.Private() && len(reply.Report.Users) == 0 {
		// Token removed between the lookup and the report.
		reply.Report.Users = []checkin.UserReport{{Account: registry.Account{Identity: user}, State: checkin.StateNotBound}}
	}
	if unbound[user] {
		reply.SenderBound = false
	}
	return reply, nil
}

// Sweep checks in every bound user. Used by the scheduled job.
func (s *Surface) Sweep(ctx context.Context) (*checkin.StatusReport, error) {
	report, err := s.reporter.Report(ctx, registry.AllUsers())
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}
	s.unbindRevoked(ctx, report)
	return report, nil
}

// unbindRevoked removes the rejected tokens in report. A user who stored a
// new token while the report ran keeps it.
func (s *Surface) unbindRevoked(ctx context.Context, report *checkin.StatusReport) map[registry.Identity]bool {
	unbound := make(map[registry.Identity]bool)
	for _, u := range report.Users {
		if u.State != checkin.StateRevoked {
			continue
		}
		id := u.Account.Identity
		removed, err := s.registry.RemoveTokenIf(ctx, id, u.Account.Token)
		if err != nil {
			s.logger.Error("failed to unbind rejected token",
				slog.String("user", string(id)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !removed {
			s.logger.Info("rejected token already replaced", slog.String("user", string(id)))
			continue
		}
		unbound[id] = true
		s.logger.Info("rejected token unbound", slog.String("user", string(id)))
	}
	return unbound
}
