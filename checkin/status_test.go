package checkin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"skland-checkin-bot/skland"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"success", nil, StatusSuccess},
		{"already by code", &skland.APIError{HTTPStatus: 200, Code: 10001, Message: "请勿重复签到！"}, StatusAlreadyDone},
		{"already by message", &skland.APIError{HTTPStatus: 200, Code: 1, Message: "今日已签到"}, StatusAlreadyDone},
		{"already beats auth status", &skland.APIError{HTTPStatus: 403, Code: 10001, Message: "already signed"}, StatusAlreadyDone},
		{"auth 401", &skland.APIError{HTTPStatus: 401, Code: 10002, Message: "用户未登录"}, StatusAuthExpired},
		{"auth code only", &skland.APIError{HTTPStatus: 200, Code: 10000, Message: "x"}, StatusAuthExpired},
		{"auth beats rate", &skland.APIError{HTTPStatus: 429, Code: 10002, Message: "请求频繁"}, StatusAuthExpired},
		{"rate 429", &skland.APIError{HTTPStatus: 429, Message: "Too Many Requests"}, StatusRateLimited},
		{"rate by message", &skland.APIError{HTTPStatus: 200, Code: 1, Message: "操作过于频繁"}, StatusRateLimited},
		{"server error", &skland.APIError{HTTPStatus: 502, Message: "Bad Gateway"}, StatusUpstreamError},
		{"unknown code", &skland.APIError{HTTPStatus: 200, Code: 99, Message: "活动未开始"}, StatusUpstreamError},
		{"malformed", fmt.Errorf("x: %w", skland.ErrMalformed), StatusUpstreamError},
		{"timeout", fmt.Errorf("request error: %w", context.DeadlineExceeded), StatusUpstreamError},
		{"transport", errors.New("connection refused"), StatusUpstreamError},
		{"wrapped api error", fmt.Errorf("arknights attendance: %w", &skland.APIError{HTTPStatus: http.StatusOK, Code: 10001}), StatusAlreadyDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Classify(tt.err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_TimeoutMessage(t *testing.T) {
	_, msg := Classify(context.DeadlineExceeded)
	assert.Equal(t, "请求超时", msg)
}

func TestStatus_SignedToday(t *testing.T) {
	assert.True(t, StatusSuccess.SignedToday())
	assert.True(t, StatusAlreadyDone.SignedToday())
	assert.False(t, StatusAuthExpired.SignedToday())
	assert.False(t, StatusRateLimited.SignedToday())
	assert.False(t, StatusUpstreamError.SignedToday())
}
