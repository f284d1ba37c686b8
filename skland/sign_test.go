package skland

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign_Deterministic(t *testing.T) {
	a := Sign("key", "/api/v1/game/player/binding", "", "1700000000", "")
	b := Sign("key", "/api/v1/game/player/binding", "", "1700000000", "")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	assert.NotEqual(t, a, Sign("other", "/api/v1/game/player/binding", "", "1700000000", ""))
	assert.NotEqual(t, a, Sign("key", "/api/v1/game/player/binding", "", "1700000001", ""))
	assert.NotEqual(t, a, Sign("key", "/api/v1/game/player/binding", "", "1700000000", "device"))
}

func TestSignedRequest_Headers(t *testing.T) {
	var got http.Header
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte(`{"code":0,"message":"OK","data":{"awards":[]}}`))
	}))
	defer server.Close()

	c := NewClient(WithBaseURLs(server.URL, server.URL), WithDeviceID("dev-1"))
	c.now = func() time.Time { return time.Unix(1700000002, 0) }

	cred := Cred{Cred: "cred-1", Token: "key-1"}
	_, err := c.AttendArknights(context.Background(), cred, "100", "1")
	require.NoError(t, err)

	assert.Equal(t, "cred-1", got.Get("cred"))
	assert.Equal(t, "1700000000", got.Get("timestamp"))
	assert.Equal(t, "3", got.Get("platform"))
	assert.Equal(t, "dev-1", got.Get("dId"))
	assert.Equal(t, Sign("key-1", "/api/v1/game/attendance", gotBody, "1700000000", "dev-1"), got.Get("sign"))
}
