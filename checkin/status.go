// Package checkin performs daily attendance for discovered game bindings and
// aggregates the outcomes into status reports.
package checkin

import (
	"errors"
	"net/http"
	"strings"

	"skland-checkin-bot/skland"
)

type Status string

const (
	StatusSuccess       Status = "SUCCESS"
	StatusAlreadyDone   Status = "ALREADY_DONE"
	StatusAuthExpired   Status = "AUTH_EXPIRED"
	StatusUpstreamError Status = "UPSTREAM_ERROR"
	StatusRateLimited   Status = "RATE_LIMITED"
)

// SignedToday reports whether the binding is checked in for the day.
func (s Status) SignedToday() bool {
	return s == StatusSuccess || s == StatusAlreadyDone
}

// Upstream result codes.
const (
	codeNotLoggedIn    = 10000
	codeAlreadySigned  = 10001
	codeSessionExpired = 10002
)

var (
	alreadyKeywords = []string{"已签到", "请勿重复", "重复签到", "签到过", "今日已", "already"}
	authKeywords    = []string{"未登录", "登录已过期", "签名错误", "unauthorized", "invalid sign"}
	rateKeywords    = []string{"频繁", "too many", "rate limit"}
)

// Classify maps the outcome of an attendance call to a Status and a short
// message. Precedence: already done, auth, rate limit, other errors.
func Classify(err error) (Status, string) {
	if err == nil {
		return StatusSuccess, ""
	}

	var apiErr *skland.APIError
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Message)
		switch {
		case apiErr.Code == codeAlreadySigned || containsAny(msg, alreadyKeywords):
			return StatusAlreadyDone, apiErr.Message
		case apiErr.HTTPStatus == http.StatusUnauthorized,
			apiErr.HTTPStatus == http.StatusForbidden,
			apiErr.Code == codeNotLoggedIn,
			apiErr.Code == codeSessionExpired,
			containsAny(msg, authKeywords):
			return StatusAuthExpired, apiErr.Message
		case apiErr.HTTPStatus == http.StatusTooManyRequests || containsAny(msg, rateKeywords):
			return StatusRateLimited, apiErr.Message
		}
		return StatusUpstreamError, apiErr.Message
	}

	if skland.IsTimeout(err) {
		return StatusUpstreamError, "请求超时"
	}
	if errors.Is(err, skland.ErrMalformed) {
		return StatusUpstreamError, "响应格式异常"
	}
	return StatusUpstreamError, err.Error()
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
