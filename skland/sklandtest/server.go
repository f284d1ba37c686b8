// Package sklandtest provides an in-process fake of the Hypergryph identity
// service and the Skland API for tests.
package sklandtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"skland-checkin-bot/skland"

	"github.com/google/uuid"
)

// Account is the roster returned for one token.
type Account struct {
	Arknights []skland.Player
	Endfield  []skland.Player
}

// Response forces the reply of an attendance call.
type Response struct {
	HTTPStatus int
	Code       int
	Message    string
}

type Server struct {
	*httptest.Server

	mu            sync.Mutex
	accounts      map[string]Account
	codes         map[string]string
	creds         map[string]string
	signed        map[string]bool
	overrides     map[string]Response
	delays        map[string]time.Duration
	calls         map[string]int
	grantFailures int
	now           func() time.Time
}

func NewServer() *Server {
	s := &Server{
		accounts:  make(map[string]Account),
		codes:     make(map[string]string),
		creds:     make(map[string]string),
		signed:    make(map[string]bool),
		overrides: make(map[string]Response),
		delays:    make(map[string]time.Duration),
		calls:     make(map[string]int),
		now:       time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /user/oauth2/v2/grant", s.handleGrant)
	mux.HandleFunc("POST /api/v1/user/auth/generate_cred_by_code", s.handleCred)
	mux.HandleFunc("GET /api/v1/game/player/binding", s.handleBinding)
	mux.HandleFunc("POST /api/v1/game/attendance", s.handleArknights)
	mux.HandleFunc("POST /web/v1/game/endfield/attendance", s.handleEndfield)
	s.Server = httptest.NewServer(mux)
	return s
}

// Client returns a skland client aimed at this server.
func (s *Server) Client(opts ...skland.Option) *skland.Client {
	opts = append([]skland.Option{
		skland.WithBaseURLs(s.URL, s.URL),
		skland.WithHTTPClient(s.Server.Client()),
	}, opts...)
	return skland.NewClient(opts...)
}

func (s *Server) AddAccount(token string, acc Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[token] = acc
}

// RevokeToken makes the identity service reject token from now on.
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, token)
}

// ExpireCreds invalidates every credential issued so far.
func (s *Server) ExpireCreds() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = make(map[string]string)
}

// FailGrant makes the next n grant calls answer 503.
func (s *Server) FailGrant(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grantFailures = n
}

// Override forces the attendance reply for the binding key "game:account".
func (s *Server) Override(key string, r Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[key] = r
}

// Delay holds the attendance reply for key by d.
func (s *Server) Delay(key string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[key] = d
}

func (s *Server) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Calls returns how many requests hit path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *Server) count(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[r.URL.Path]++
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	s.count(r)
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 1, "msg": "bad request"})
		return
	}

	s.mu.Lock()
	if s.grantFailures > 0 {
		s.grantFailures--
		s.mu.Unlock()
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": 500, "msg": "service unavailable"})
		return
	}
	_, ok := s.accounts[req.Token]
	code := uuid.NewString()
	if ok {
		s.codes[code] = req.Token
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"status": 3, "msg": "登录已过期，请重新登录"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": 0,
		"msg":    "OK",
		"data":   map[string]string{"code": code, "uid": "1"},
	})
}

func (s *Server) handleCred(w http.ResponseWriter, r *http.Request) {
	s.count(r)
	var req struct {
		Code string `json:"code"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	token, ok := s.codes[req.Code]
	delete(s.codes, req.Code)
	cred := uuid.NewString()
	if ok {
		s.creds[cred] = token
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"code": 10003, "message": "code 无效"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"code":    0,
		"message": "OK",
		"data": map[string]string{
			"cred":   cred,
			"token":  "key-" + cred,
			"userId": "1",
		},
	})
}

// authorize resolves the cred header to a token, answering 401 when unknown.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Header.Get("sign") == "" || r.Header.Get("timestamp") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 10000, "message": "签名错误"})
		return "", false
	}
	s.mu.Lock()
	token, ok := s.creds[r.Header.Get("cred")]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 10002, "message": "用户未登录"})
		return "", false
	}
	return token, true
}

func (s *Server) handleBinding(w http.ResponseWriter, r *http.Request) {
	s.count(r)
	token, ok := s.authorize(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	acc := s.accounts[token]
	s.mu.Unlock()

	var list []skland.AppBinding
	if len(acc.Arknights) > 0 {
		list = append(list, skland.AppBinding{AppCode: skland.AppArknights, AppName: "明日方舟", BindingList: acc.Arknights})
	}
	if len(acc.Endfield) > 0 {
		list = append(list, skland.AppBinding{AppCode: skland.AppEndfield, AppName: "终末地", BindingList: acc.Endfield})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"code":    0,
		"message": "OK",
		"data":    map[string]any{"list": list},
	})
}

func (s *Server) handleArknights(w http.ResponseWriter, r *http.Request) {
	s.count(r)
	if _, ok := s.authorize(w, r); !ok {
		return
	}
	var req struct {
		UID    string `json:"uid"`
		GameID string `json:"gameId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 1, "message": "bad request"})
		return
	}

	s.attend(w, r, skland.AppArknights+":"+req.UID, map[string]any{
		"awards": []map[string]any{{
			"resource": map[string]string{"id": "4001", "name": "龙门币"},
			"count":    500,
		}},
	})
}

func (s *Server) handleEndfield(w http.ResponseWriter, r *http.Request) {
	s.count(r)
	if _, ok := s.authorize(w, r); !ok {
		return
	}
	parts := strings.Split(r.Header.Get("sk-game-role"), "_")
	if len(parts) != 3 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 1, "message": "缺少角色信息"})
		return
	}

	s.attend(w, r, skland.AppEndfield+":"+parts[1], map[string]any{
		"awardIds": []map[string]string{{"id": "a1"}},
		"resourceInfoMap": map[string]any{
			"a1": map[string]any{"id": "a1", "name": "折金票", "count": 80},
		},
	})
}

func (s *Server) attend(w http.ResponseWriter, r *http.Request, key string, data any) {
	s.mu.Lock()
	delay := s.delays[key]
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	override, forced := s.overrides[key]
	day := fmt.Sprintf("%s@%s", key, s.now().Format("2006-01-02"))
	already := s.signed[day]
	if !forced && !already {
		s.signed[day] = true
	}
	s.mu.Unlock()

	switch {
	case forced:
		status := override.HTTPStatus
		if status == 0 {
			status = http.StatusOK
		}
		writeJSON(w, status, map[string]any{"code": override.Code, "message": override.Message})
	case already:
		writeJSON(w, http.StatusOK, map[string]any{"code": 10001, "message": "请勿重复签到！"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"code": 0, "message": "OK", "data": data})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
