package skland

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	IdentityURL = "https://as.hypergryph.com"
	APIURL      = "https://zonai.skland.com"

	// appCode identifies the Skland app to the Hypergryph OAuth grant endpoint.
	appCode   = "4ca99fa6b56cc2ba"
	userAgent = "Mozilla/5.0 (Linux; Android 12; SM-A5560 Build/V417IR; wv) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/101.0.4951.61 Safari/537.36; SKLand/1.21.0"

	maxBodySize = 1 << 20
)

type Client struct {
	HTTPClient *http.Client

	identityURL string
	apiURL      string
	deviceID    string
	limiter     *rate.Limiter
	now         func() time.Time
}

type Option func(*Client)

// WithBaseURLs points the client at alternative identity and API hosts.
func WithBaseURLs(identity, api string) Option {
	return func(c *Client) {
		c.identityURL = identity
		c.apiURL = api
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// WithRateLimit paces outgoing requests. A non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithDeviceID(id string) Option {
	return func(c *Client) { c.deviceID = id }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
		identityURL: IdentityURL,
		apiURL:      APIURL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cred is the short-lived credential issued by the Skland API for one grant code.
// Token is the HMAC key used to sign subsequent requests.
type Cred struct {
	Cred   string `json:"cred"`
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

// envelope covers both response shapes: the identity service reports
// status/msg, the Skland API reports code/message.
type envelope struct {
	Status  *int            `json:"status"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) result() (int, string) {
	code := e.Code
	if e.Status != nil {
		code = *e.Status
	}
	msg := e.Message
	if msg == "" {
		msg = e.Msg
	}
	return code, msg
}

// GrantCode exchanges the user's account token for a one-time grant code.
func (c *Client) GrantCode(ctx context.Context, token string) (string, error) {
	body := map[string]any{
		"appCode": appCode,
		"token":   token,
		"type":    0,
	}
	req, err := c.newJSONRequest(ctx, http.MethodPost, c.identityURL+"/user/oauth2/v2/grant", body)
	if err != nil {
		return "", err
	}

	var data struct {
		Code string `json:"code"`
	}
	if err := c.do(req, &data); err != nil {
		return "", fmt.Errorf("grant code: %w", err)
	}
	if data.Code == "" {
		return "", fmt.Errorf("grant code: %w: empty code", ErrMalformed)
	}
	return data.Code, nil
}

// GenerateCred turns a grant code into a signed-request credential.
func (c *Client) GenerateCred(ctx context.Context, code string) (Cred, error) {
	body := map[string]any{
		"code": code,
		"kind": 1,
	}
	req, err := c.newJSONRequest(ctx, http.MethodPost, c.apiURL+"/api/v1/user/auth/generate_cred_by_code", body)
	if err != nil {
		return Cred{}, err
	}

	var cred Cred
	if err := c.do(req, &cred); err != nil {
		return Cred{}, fmt.Errorf("generate cred: %w", err)
	}
	if cred.Cred == "" || cred.Token == "" {
		return Cred{}, fmt.Errorf("generate cred: %w: empty credential", ErrMalformed)
	}
	return cred, nil
}

// Bindings lists the game accounts bound to the Skland user behind cred.
func (c *Client) Bindings(ctx context.Context, cred Cred) ([]AppBinding, error) {
	req, err := c.newSignedRequest(ctx, cred, http.MethodGet, "/api/v1/game/player/binding", nil, nil)
	if err != nil {
		return nil, err
	}

	var data struct {
		List []AppBinding `json:"list"`
	}
	if err := c.do(req, &data); err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	return data.List, nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, rawURL string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

// newSignedRequest builds a request against the Skland API carrying the
// cred and sign headers. A nil body sends no payload; query is appended to path.
func (c *Client) newSignedRequest(ctx context.Context, cred Cred, method, path string, query url.Values, body any) (*http.Request, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	rawURL := c.apiURL + path
	signed := string(payload)
	if len(query) > 0 {
		q := query.Encode()
		rawURL += "?" + q
		signed = q
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	ts := strconv.FormatInt(c.now().Unix()-signClockSkew, 10)
	sig := Sign(cred.Token, path, signed, ts, c.deviceID)

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("cred", cred.Cred)
	req.Header.Set("sign", sig)
	req.Header.Set("platform", signPlatform)
	req.Header.Set("timestamp", ts)
	req.Header.Set("dId", c.deviceID)
	req.Header.Set("vName", signVersion)
	return req, nil
}

// do sends req and decodes the response data into out. Non-2xx statuses and
// non-zero result codes come back as *APIError.
func (c *Client) do(req *http.Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read body error: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(bodyBytes, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if decodeErr == nil {
			code, msg := env.result()
			apiErr.Code = code
			if msg != "" {
				apiErr.Message = msg
			}
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, decodeErr)
	}

	if code, msg := env.result(); code != 0 {
		return &APIError{HTTPStatus: resp.StatusCode, Code: code, Message: msg}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// IsTimeout reports whether err came from a deadline or client timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
