package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"skland-checkin-bot/metrics"
	"skland-checkin-bot/skland"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultSessionTTL     = 30 * time.Minute
	defaultCallTimeout    = 10 * time.Second
	defaultInitialBackoff = 500 * time.Millisecond

	// One attempt plus at most two retries.
	maxExchangeTries = 3
)

// Upstream is the subset of the Skland client the exchanger needs.
type Upstream interface {
	GrantCode(ctx context.Context, token string) (string, error)
	GenerateCred(ctx context.Context, code string) (skland.Cred, error)
	Bindings(ctx context.Context, cred skland.Cred) ([]skland.AppBinding, error)
}

type Options struct {
	// Games restricts which bindings are returned. Empty means all games.
	Games          []Game
	SessionTTL     time.Duration
	CallTimeout    time.Duration
	InitialBackoff time.Duration
	Metrics        metrics.Recorder
	Now            func() time.Time
}

type Exchanger struct {
	upstream       Upstream
	games          map[Game]bool
	sessionTTL     time.Duration
	callTimeout    time.Duration
	initialBackoff time.Duration
	metrics        metrics.Recorder
	now            func() time.Time
	logger         *slog.Logger
}

func NewExchanger(upstream Upstream, logger *slog.Logger, opts Options) *Exchanger {
	e := &Exchanger{
		upstream:       upstream,
		games:          make(map[Game]bool),
		sessionTTL:     opts.SessionTTL,
		callTimeout:    opts.CallTimeout,
		initialBackoff: opts.InitialBackoff,
		metrics:        opts.Metrics,
		now:            opts.Now,
		logger:         logger,
	}
	if e.sessionTTL <= 0 {
		e.sessionTTL = defaultSessionTTL
	}
	if e.callTimeout <= 0 {
		e.callTimeout = defaultCallTimeout
	}
	if e.initialBackoff <= 0 {
		e.initialBackoff = defaultInitialBackoff
	}
	if e.metrics == nil {
		e.metrics = metrics.Nop{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	games := opts.Games
	if len(games) == 0 {
		games = AllGames
	}
	for _, g := range games {
		e.games[g] = true
	}
	return e
}

// Exchange turns token into one Session per discovered binding, in the order
// the upstream lists them. Transient failures are retried with backoff;
// an Invalid failure is returned immediately.
func (e *Exchanger) Exchange(ctx context.Context, token string) ([]Session, error) {
	if strings.TrimSpace(token) == "" {
		e.metrics.RecordExchangeFailure(Invalid.String())
		return nil, invalid(errors.New("empty token"))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.initialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxInterval = 8 * e.initialBackoff

	attempt := 0
	sessions, err := backoff.Retry(ctx, func() ([]Session, error) {
		attempt++
		sessions, err := e.exchangeOnce(ctx, token)
		if err == nil {
			return sessions, nil
		}
		if errors.Is(err, ErrInvalidToken) {
			return nil, backoff.Permanent(err)
		}
		e.logger.Warn("credential exchange failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		return nil, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxExchangeTries))

	if err != nil {
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			authErr = &AuthError{Kind: Transient, Err: err}
		}
		e.metrics.RecordExchangeFailure(authErr.Kind.String())
		return nil, authErr
	}
	return sessions, nil
}

func (e *Exchanger) exchangeOnce(ctx context.Context, token string) ([]Session, error) {
	var code string
	err := e.call(ctx, "grant", func(ctx context.Context) error {
		var err error
		code, err = e.upstream.GrantCode(ctx, token)
		return err
	})
	if err != nil {
		return nil, classifyGrant(err)
	}

	var cred skland.Cred
	err = e.call(ctx, "cred", func(ctx context.Context) error {
		var err error
		cred, err = e.upstream.GenerateCred(ctx, code)
		return err
	})
	if err != nil {
		return nil, transient(err)
	}

	var apps []skland.AppBinding
	err = e.call(ctx, "bindings", func(ctx context.Context) error {
		var err error
		apps, err = e.upstream.Bindings(ctx, cred)
		return err
	})
	if err != nil {
		return nil, transient(err)
	}

	issued := e.now()
	var sessions []Session
	for _, b := range e.flatten(token, apps) {
		sessions = append(sessions, Session{
			Binding:   b,
			Cred:      cred,
			IssuedAt:  issued,
			ExpiresAt: issued.Add(e.sessionTTL),
		})
	}
	return sessions, nil
}

// flatten turns the upstream roster into bindings: one per Arknights
// account and one per Endfield role.
func (e *Exchanger) flatten(token string, apps []skland.AppBinding) []Binding {
	var out []Binding
	for _, app := range apps {
		game := Game(app.AppCode)
		if !e.games[game] {
			continue
		}
		for _, p := range app.BindingList {
			switch game {
			case GameArknights:
				out = append(out, Binding{
					Token:       token,
					Game:        game,
					AccountID:   p.UID,
					GameID:      p.ChannelMasterID,
					Nickname:    p.NickName,
					ChannelName: p.ChannelName,
				})
			case GameEndfield:
				for _, r := range p.Roles {
					nick := r.Nickname
					if nick == "" {
						nick = p.NickName
					}
					out = append(out, Binding{
						Token:       token,
						Game:        game,
						AccountID:   r.RoleID,
						ServerID:    r.ServerID,
						Nickname:    nick,
						ChannelName: p.ChannelName,
					})
				}
			}
		}
	}
	return out
}

func (e *Exchanger) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	e.metrics.RecordUpstreamLatency(op, time.Since(start))
	return err
}

// classifyGrant decides whether a grant failure means the token is dead.
// Only an explicit rejection by the identity service counts as invalid.
func classifyGrant(err error) error {
	var apiErr *skland.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatus >= http.StatusInternalServerError || apiErr.HTTPStatus == http.StatusTooManyRequests {
			return transient(err)
		}
		return invalid(fmt.Errorf("identity service rejected token: %w", err))
	}
	return transient(err)
}
