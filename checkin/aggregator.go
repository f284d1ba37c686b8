package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"skland-checkin-bot/credential"
	"skland-checkin-bot/metrics"
	"skland-checkin-bot/registry"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 8

type AccountLister interface {
	ListUsersWithTokens(ctx context.Context, scope registry.Scope) ([]registry.Account, error)
}

type Checker interface {
	Checkin(ctx context.Context, sess credential.Session) Result
}

// Aggregator fans check-ins out across users and bindings and joins the
// results in a stable order. It never writes to the registry.
type Aggregator struct {
	accounts    AccountLister
	exchanger   Exchanger
	checker     Checker
	concurrency int
	metrics     metrics.Recorder
	now         func() time.Time
	logger      *slog.Logger
}

type AggregatorOptions struct {
	Concurrency int
	Metrics     metrics.Recorder
	Now         func() time.Time
}

func NewAggregator(accounts AccountLister, exchanger Exchanger, checker Checker, logger *slog.Logger, opts AggregatorOptions) *Aggregator {
	a := &Aggregator{
		accounts:    accounts,
		exchanger:   exchanger,
		checker:     checker,
		concurrency: opts.Concurrency,
		metrics:     opts.Metrics,
		now:         opts.Now,
		logger:      logger,
	}
	if a.concurrency <= 0 {
		a.concurrency = defaultConcurrency
	}
	if a.metrics == nil {
		a.metrics = metrics.Nop{}
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// Report checks in every binding of every user in scope that holds a token.
func (a *Aggregator) Report(ctx context.Context, scope registry.Scope) (*StatusReport, error) {
	accounts, err := a.accounts.ListUsersWithTokens(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	return a.ReportAccounts(ctx, accounts), nil
}

// ReportAccounts runs the check-ins for accounts. A failure for one user or
// binding never prevents the others from being collected.
func (a *Aggregator) ReportAccounts(ctx context.Context, accounts []registry.Account) *StatusReport {
	start := time.Now()
	report := &StatusReport{
		RunID: uuid.NewString(),
		At:    a.now(),
		Users: make([]UserReport, len(accounts)),
	}
	log := a.logger.With(slog.String("run_id", report.RunID))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, acc := range accounts {
		g.Go(func() error {
			report.Users[i] = a.reportUser(ctx, log, acc)
			return nil
		})
	}
	_ = g.Wait()

	a.metrics.RecordReport(len(accounts), time.Since(start))
	log.Info("status report finished",
		slog.Int("users", len(accounts)),
		slog.Int("results", len(report.Results())),
		slog.Duration("duration", time.Since(start)),
	)
	return report
}

func (a *Aggregator) reportUser(ctx context.Context, log *slog.Logger, acc registry.Account) UserReport {
	ur := UserReport{Account: acc, State: StateOK}

	sessions, err := a.exchanger.Exchange(ctx, acc.Token)
	if err != nil {
		log.Warn("credential exchange failed",
			slog.String("user", string(acc.Identity)),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, credential.ErrInvalidToken) {
			ur.State = StateRevoked
			ur.Message = "token 已失效"
		} else {
			ur.State = StateFailed
			ur.Message = "登录凭证获取失败，请稍后再试"
		}
		return ur
	}

	for _, s := range sessions {
		if s.Binding.Nickname != "" {
			ur.Nickname = s.Binding.Nickname
			break
		}
	}

	ur.Results = make([]Result, len(sessions))
	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, s := range sessions {
		g.Go(func() error {
			ur.Results[i] = a.checker.Checkin(ctx, s)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range ur.Results {
		if r.TokenRejected {
			log.Warn("token rejected during check-in", slog.String("user", string(acc.Identity)))
			ur.State = StateRevoked
			ur.Message = "token 已失效"
			break
		}
	}
	return ur
}
