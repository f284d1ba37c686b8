package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"skland-checkin-bot/credential"
	"skland-checkin-bot/metrics"
	"skland-checkin-bot/skland"
)

const defaultCallTimeout = 10 * time.Second

// Attender performs the per-game attendance calls.
type Attender interface {
	AttendArknights(ctx context.Context, cred skland.Cred, uid, gameID string) (*skland.Attendance, error)
	AttendEndfield(ctx context.Context, cred skland.Cred, roleID, serverID string) (*skland.Attendance, error)
}

type Exchanger interface {
	Exchange(ctx context.Context, token string) ([]credential.Session, error)
}

// Result is the outcome of one check-in attempt for one binding.
type Result struct {
	Binding credential.Binding
	Status  Status
	Message string
	Awards  []skland.Award
	At      time.Time

	// TokenRejected is set when a re-exchange found the account token itself
	// rejected. The token should be unbound.
	TokenRejected bool
}

type Executor struct {
	attender    Attender
	exchanger   Exchanger
	callTimeout time.Duration
	metrics     metrics.Recorder
	now         func() time.Time
	logger      *slog.Logger
}

type ExecutorOptions struct {
	CallTimeout time.Duration
	Metrics     metrics.Recorder
	Now         func() time.Time
}

func NewExecutor(attender Attender, exchanger Exchanger, logger *slog.Logger, opts ExecutorOptions) *Executor {
	x := &Executor{
		attender:    attender,
		exchanger:   exchanger,
		callTimeout: opts.CallTimeout,
		metrics:     opts.Metrics,
		now:         opts.Now,
		logger:      logger,
	}
	if x.callTimeout <= 0 {
		x.callTimeout = defaultCallTimeout
	}
	if x.metrics == nil {
		x.metrics = metrics.Nop{}
	}
	if x.now == nil {
		x.now = time.Now
	}
	return x
}

// Checkin attends sess's binding and classifies the outcome. An expired
// session is re-exchanged before the call; an AUTH_EXPIRED answer on a
// session that has not been refreshed yet gets one re-exchange and retry.
// At most one re-exchange happens per invocation.
func (x *Executor) Checkin(ctx context.Context, sess credential.Session) Result {
	refreshed := false
	if sess.Expired(x.now()) {
		fresh, res, ok := x.refresh(ctx, sess.Binding)
		if !ok {
			return x.finish(res)
		}
		sess, refreshed = fresh, true
	}

	res := x.attend(ctx, sess)
	if res.Status == StatusAuthExpired && !refreshed {
		x.logger.Info("session rejected, re-exchanging once",
			slog.String("binding", sess.Binding.Key()),
			slog.String("message", res.Message),
		)
		fresh, failed, ok := x.refresh(ctx, sess.Binding)
		if !ok {
			return x.finish(failed)
		}
		res = x.attend(ctx, fresh)
	}
	return x.finish(res)
}

func (x *Executor) attend(ctx context.Context, sess credential.Session) Result {
	ctx, cancel := context.WithTimeout(ctx, x.callTimeout)
	defer cancel()

	b := sess.Binding
	start := time.Now()
	var att *skland.Attendance
	var err error
	switch b.Game {
	case credential.GameArknights:
		att, err = x.attender.AttendArknights(ctx, sess.Cred, b.AccountID, b.GameID)
	case credential.GameEndfield:
		att, err = x.attender.AttendEndfield(ctx, sess.Cred, b.AccountID, b.ServerID)
	default:
		err = fmt.Errorf("unsupported game %q", b.Game)
	}
	x.metrics.RecordUpstreamLatency("attend_"+string(b.Game), time.Since(start))

	status, msg := Classify(err)
	res := Result{Binding: b, Status: status, Message: msg, At: x.now()}
	if err == nil && att != nil {
		res.Awards = att.Awards
	}
	return res
}

// refresh exchanges the binding's token again and picks the session for the
// same binding. The failure Result is returned when no session is available.
func (x *Executor) refresh(ctx context.Context, b credential.Binding) (credential.Session, Result, bool) {
	sessions, err := x.exchanger.Exchange(ctx, b.Token)
	if err != nil {
		res := Result{Binding: b, Status: StatusUpstreamError, Message: "凭证刷新失败", At: x.now()}
		if errors.Is(err, credential.ErrInvalidToken) {
			res.Status = StatusAuthExpired
			res.Message = "凭证已失效"
			res.TokenRejected = true
		}
		return credential.Session{}, res, false
	}
	for _, s := range sessions {
		if s.Binding.Key() == b.Key() {
			return s, Result{}, true
		}
	}
	return credential.Session{}, Result{Binding: b, Status: StatusUpstreamError, Message: "绑定已不存在", At: x.now()}, false
}

func (x *Executor) finish(res Result) Result {
	x.metrics.RecordCheckin(string(res.Binding.Game), string(res.Status))
	level := slog.LevelInfo
	if !res.Status.SignedToday() {
		level = slog.LevelWarn
	}
	x.logger.Log(context.Background(), level, "check-in finished",
		slog.String("binding", res.Binding.Key()),
		slog.String("status", string(res.Status)),
		slog.String("message", res.Message),
	)
	return res
}
