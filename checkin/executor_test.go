package checkin

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"skland-checkin-bot/credential"
	"skland-checkin-bot/logger"
	"skland-checkin-bot/skland"
	"skland-checkin-bot/skland/sklandtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAttender answers attendance calls from attendFunc, keyed by account id.
type mockAttender struct {
	mu         sync.Mutex
	attendFunc func(ctx context.Context, cred skland.Cred, account string) (*skland.Attendance, error)
	calls      []string
}

func (m *mockAttender) record(cred skland.Cred) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, cred.Cred)
}

func (m *mockAttender) AttendArknights(ctx context.Context, cred skland.Cred, uid, gameID string) (*skland.Attendance, error) {
	m.record(cred)
	return m.attendFunc(ctx, cred, uid)
}

func (m *mockAttender) AttendEndfield(ctx context.Context, cred skland.Cred, roleID, serverID string) (*skland.Attendance, error) {
	m.record(cred)
	return m.attendFunc(ctx, cred, roleID)
}

type mockExchanger struct {
	mu           sync.Mutex
	exchangeFunc func(ctx context.Context, token string) ([]credential.Session, error)
	calls        int
}

func (m *mockExchanger) Exchange(ctx context.Context, token string) ([]credential.Session, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.exchangeFunc(ctx, token)
}

func session(game credential.Game, account, cred string, expires time.Time) credential.Session {
	return credential.Session{
		Binding:   credential.Binding{Token: "tok", Game: game, AccountID: account},
		Cred:      skland.Cred{Cred: cred},
		ExpiresAt: expires,
	}
}

func freshExchanger(sessions ...credential.Session) *mockExchanger {
	return &mockExchanger{exchangeFunc: func(ctx context.Context, token string) ([]credential.Session, error) {
		return sessions, nil
	}}
}

var errAuth = &skland.APIError{HTTPStatus: http.StatusUnauthorized, Code: 10002, Message: "用户未登录"}

func TestExecutor_Success(t *testing.T) {
	att := &mockAttender{attendFunc: func(ctx context.Context, cred skland.Cred, account string) (*skland.Attendance, error) {
		return &skland.Attendance{Awards: []skland.Award{{Name: "龙门币", Count: 500}}}, nil
	}}
	ex := freshExchanger()
	x := NewExecutor(att, ex, logger.Discard(), ExecutorOptions{})

	res := x.Checkin(context.Background(), session(credential.GameArknights, "a1", "c1", time.Now().Add(time.Hour)))
	assert.Equal(t, StatusSuccess, res.Status)
	require.Len(t, res.Awards, 1)
	assert.Equal(t, "a1", res.Binding.AccountID)
	assert.Zero(t, ex.calls)
}

func TestExecutor_AuthExpiredRetriedOnce(t *testing.T) {
	att := &mockAttender{attendFunc: func(ctx context.Context, cred skland.Cred, account string) (*skland.Attendance, error) {
		if cred.Cred == "stale" {
			return nil, errAuth
		}
		return &skland.Attendance{}, nil
	}}
	ex := freshExchanger(
		session(credential.GameArknights, "other", "fresh", time.Now().Add(time.Hour)),
		session(credential.GameArknights, "a1", "fresh", time.Now().Add(time.Hour)),
	)
	x := NewExecutor(att, ex, logger.Discard(), ExecutorOptions{})

	res := x.Checkin(context.Background(), session(credential.GameArknights, "a1", "stale", time.Now().Add(time.Hour)))
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 1, ex.calls)
	assert.Equal(t, []string{"stale", "fresh"}, att.calls)
}

func TestExecutor_AuthExpiredNotRetriedTwice(t *testing.T) {
	att := &mockAttender{attendFunc: func(ctx context.Context, cred skland.Cred, account string) (*skland.Attendance, error) {
		return nil, errAuth
	}}
	ex := freshExchanger(session(credential.GameArknights, "a1", "fresh", time.Now().Add(time.Hour)))
	x := NewExecutor(att, ex, logger.Discard(), ExecutorOptions{})

	res := x.Checkin(context.Background(), session(credential.GameArknights, "a1", "stale", time.Now().Add(time.Hour)))
	assert.Equal(t, StatusAuthExpired, res.Status)
	assert.Equal(t, 1, ex.calls)
	assert.Len(t, att.calls, 2)
}

func TestExecutor_ExpiredSessionRefreshedFirst(t *testing.T) {
	att := &mockAttender{attendFunc: func(ctx context.Context, cred skland.Cred, account string) (*skland.Attendance, error) {
		if cred.Cred != "fresh" {
			t.Errorf("expired session used: %s", cred.Cred)
		}
		return nil, errAuth
	}}
	ex := freshExchanger(session(credential.GameEndfield, "r1", "fresh", time.Now().Add(time.Hour)))
	x := NewExecutor(att, ex, logger.Discard(), ExecutorOptions{})

	res := x.Checkin(context.Background(), session(credential.GameEndfield, "r1", "old", time.Now().Add(-time.Minute)))
	assert.Equal(t, StatusAuthExpired, res.Status)
	assert.Equal(t, 1, ex.calls, "re-exchange budget is one per invocation")
	assert.Equal(t, []string{"fresh"}, att.calls)
}

func TestExecutor_RefreshFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     Status
		rejected bool
	}{
		{"invalid token", &credential.AuthError{Kind: credential.Invalid, Err: errors.New("rejected")}, StatusAuthExpired, true},
		{"transient", &credential.AuthError{Kind: credential.Transient, Err: errors.New("503")}, StatusUpstreamError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			att := &mockAttender{attendFunc: func(ctx context.Context, cred skland.Cred, account string) (*skland.Attendance, error) {
				return nil, errAuth
			}}
			ex := &mockExchanger{exchangeFunc: func(ctx context.Context, token string) ([]credential.Session, error) {
				return nil, tt.err
			}}
			x := NewExecutor(att, ex, logger.Discard(), ExecutorOptions{})

			res := x.Checkin(context.Background(), session(credential.GameArknights, "a1", "stale", time.Now().Add(time.Hour)))
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, tt.rejected, res.TokenRejected)
		})
	}
}

func TestExecutor_BindingGoneAfterRefresh(t *testing.T) {
	att := &mockAttender{attendFunc: func(ctx context.Context, cred skland.Cred, account string) (*skland.Attendance, error) {
		return nil, errAuth
	}}
	ex := freshExchanger()
	x := NewExecutor(att, ex, logger.Discard(), ExecutorOptions{})

	res := x.Checkin(context.Background(), session(credential.GameArknights, "a1", "stale", time.Now().Add(time.Hour)))
	assert.Equal(t, StatusUpstreamError, res.Status)
	assert.Equal(t, "绑定已不存在", res.Message)
}

func TestExecutor_NoRetryForOtherOutcomes(t *testing.T) {
	for _, err := range []error{
		&skland.APIError{HTTPStatus: 200, Code: 10001, Message: "请勿重复签到！"},
		&skland.APIError{HTTPStatus: 429, Message: "too many requests"},
		&skland.APIError{HTTPStatus: 500, Message: "boom"},
	} {
		att := &mockAttender{attendFunc: func(ctx context.Context, cred skland.Cred, account string) (*skland.Attendance, error) {
			return nil, err
		}}
		ex := freshExchanger()
		x := NewExecutor(att, ex, logger.Discard(), ExecutorOptions{})

		x.Checkin(context.Background(), session(credential.GameArknights, "a1", "c", time.Now().Add(time.Hour)))
		assert.Zero(t, ex.calls)
		assert.Len(t, att.calls, 1)
	}
}

func TestExecutor_TimeoutIsUpstreamError(t *testing.T) {
	att := &mockAttender{attendFunc: func(ctx context.Context, cred skland.Cred, account string) (*skland.Attendance, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	x := NewExecutor(att, freshExchanger(), logger.Discard(), ExecutorOptions{CallTimeout: 20 * time.Millisecond})

	res := x.Checkin(context.Background(), session(credential.GameArknights, "a1", "c", time.Now().Add(time.Hour)))
	assert.Equal(t, StatusUpstreamError, res.Status)
	assert.Equal(t, "请求超时", res.Message)
}

func TestExecutor_SameDayIdempotence(t *testing.T) {
	srv := sklandtest.NewServer()
	defer srv.Close()
	srv.AddAccount("tok", sklandtest.Account{
		Arknights: []skland.Player{{UID: "100", ChannelMasterID: "1", NickName: "Doctor"}},
	})
	client := srv.Client()
	exch := credential.NewExchanger(client, logger.Discard(), credential.Options{})
	x := NewExecutor(client, exch, logger.Discard(), ExecutorOptions{})

	sessions, err := exch.Exchange(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	first := x.Checkin(context.Background(), sessions[0])
	second := x.Checkin(context.Background(), sessions[0])
	assert.Equal(t, StatusSuccess, first.Status)
	assert.Equal(t, StatusAlreadyDone, second.Status)
}

func TestExecutor_ReexchangeAgainstFakeSkland(t *testing.T) {
	srv := sklandtest.NewServer()
	defer srv.Close()
	srv.AddAccount("tok", sklandtest.Account{
		Endfield: []skland.Player{{UID: "e", Roles: []skland.Role{{RoleID: "r1", ServerID: "1"}}}},
	})
	client := srv.Client()
	exch := credential.NewExchanger(client, logger.Discard(), credential.Options{})
	x := NewExecutor(client, exch, logger.Discard(), ExecutorOptions{})

	sessions, err := exch.Exchange(context.Background(), "tok")
	require.NoError(t, err)
	srv.ExpireCreds()

	res := x.Checkin(context.Background(), sessions[0])
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2, srv.Calls("/user/oauth2/v2/grant"))
}
