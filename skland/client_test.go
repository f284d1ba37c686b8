package skland_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"skland-checkin-bot/skland"
	"skland-checkin-bot/skland/sklandtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFake(t *testing.T) *sklandtest.Server {
	t.Helper()
	srv := sklandtest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddAccount("tok-1", sklandtest.Account{
		Arknights: []skland.Player{{UID: "100", ChannelMasterID: "1", ChannelName: "官服", NickName: "Doctor"}},
		Endfield: []skland.Player{{UID: "200", NickName: "Endmin", Roles: []skland.Role{
			{RoleID: "r1", ServerID: "s1", Nickname: "Endmin#1"},
		}}},
	})
	return srv
}

func login(t *testing.T, c *skland.Client, token string) skland.Cred {
	t.Helper()
	ctx := context.Background()
	code, err := c.GrantCode(ctx, token)
	require.NoError(t, err)
	cred, err := c.GenerateCred(ctx, code)
	require.NoError(t, err)
	return cred
}

func TestClient_FullFlow(t *testing.T) {
	srv := newFake(t)
	c := srv.Client()
	ctx := context.Background()

	cred := login(t, c, "tok-1")
	assert.NotEmpty(t, cred.Cred)
	assert.NotEmpty(t, cred.Token)

	apps, err := c.Bindings(ctx, cred)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, skland.AppArknights, apps[0].AppCode)
	assert.Equal(t, "100", apps[0].BindingList[0].UID)
	assert.Equal(t, skland.AppEndfield, apps[1].AppCode)
	assert.Equal(t, "r1", apps[1].BindingList[0].Roles[0].RoleID)

	att, err := c.AttendArknights(ctx, cred, "100", "1")
	require.NoError(t, err)
	require.Len(t, att.Awards, 1)
	assert.Equal(t, "龙门币×500", att.Awards[0].String())

	att, err = c.AttendEndfield(ctx, cred, "r1", "s1")
	require.NoError(t, err)
	require.Len(t, att.Awards, 1)
	assert.Equal(t, "折金票", att.Awards[0].Name)
}

func TestClient_GrantRejected(t *testing.T) {
	srv := newFake(t)
	c := srv.Client()

	_, err := c.GrantCode(context.Background(), "unknown")
	var apiErr *skland.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusOK, apiErr.HTTPStatus)
	assert.Equal(t, 3, apiErr.Code)
	assert.Contains(t, apiErr.Message, "登录已过期")
}

func TestClient_RepeatAttendance(t *testing.T) {
	srv := newFake(t)
	c := srv.Client()
	ctx := context.Background()
	cred := login(t, c, "tok-1")

	_, err := c.AttendArknights(ctx, cred, "100", "1")
	require.NoError(t, err)

	_, err = c.AttendArknights(ctx, cred, "100", "1")
	var apiErr *skland.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 10001, apiErr.Code)
}

func TestClient_ExpiredCred(t *testing.T) {
	srv := newFake(t)
	c := srv.Client()
	cred := login(t, c, "tok-1")
	srv.ExpireCreds()

	_, err := c.Bindings(context.Background(), cred)
	var apiErr *skland.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.HTTPStatus)
	assert.Equal(t, 10002, apiErr.Code)
}

func TestClient_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway</html>"))
	}))
	defer server.Close()

	c := skland.NewClient(skland.WithBaseURLs(server.URL, server.URL))
	_, err := c.GrantCode(context.Background(), "tok")
	assert.ErrorIs(t, err, skland.ErrMalformed)
}

func TestClient_NonJSONErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := skland.NewClient(skland.WithBaseURLs(server.URL, server.URL))
	_, err := c.GrantCode(context.Background(), "tok")
	var apiErr *skland.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.HTTPStatus)
	assert.Equal(t, "Bad Gateway", apiErr.Message)
}

func TestClient_Timeout(t *testing.T) {
	srv := newFake(t)
	c := srv.Client()
	cred := login(t, c, "tok-1")
	srv.Delay("arknights:100", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.AttendArknights(ctx, cred, "100", "1")
	require.Error(t, err)
	assert.True(t, skland.IsTimeout(err))
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	srv := newFake(t)
	c := srv.Client(skland.WithRateLimit(0.001, 1))

	_, err := c.GrantCode(context.Background(), "tok-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.GrantCode(ctx, "tok-1")
	require.Error(t, err)
	assert.False(t, errors.As(err, new(*skland.APIError)))
}
