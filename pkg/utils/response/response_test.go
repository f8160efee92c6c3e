package response

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kart-io/docuchat/pkg/errors"
)

func TestSuccess(t *testing.T) {
	resp := Success(map[string]string{"answer": "42"})
	defer Release(resp)

	assert.True(t, resp.IsSuccess())
	assert.Equal(t, 0, resp.Code)
	assert.Equal(t, http.StatusOK, resp.HTTPStatus())
	assert.Equal(t, "success", resp.Message)
	assert.NotNil(t, resp.Data)
}

func TestErr(t *testing.T) {
	tests := []struct {
		name       string
		errno      *errors.Errno
		wantStatus int
	}{
		{"rate limit exceeded", errors.ErrRateLimitExceeded, http.StatusTooManyRequests},
		{"session not found", errors.ErrSessionNotFound, http.StatusNotFound},
		{"no index", errors.ErrNoIndex, http.StatusConflict},
		{"all providers failed", errors.ErrAllProvidersFailed, http.StatusBadGateway},
		{"internal", errors.ErrInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := Err(tt.errno)
			defer Release(resp)

			assert.False(t, resp.IsSuccess())
			assert.Equal(t, tt.errno.Code, resp.Code)
			assert.Equal(t, tt.wantStatus, resp.HTTPStatus())
			assert.Equal(t, tt.errno.MessageEN, resp.Message)
			assert.Nil(t, resp.Data)
		})
	}
}

func TestErrNilReturnsSuccess(t *testing.T) {
	resp := Err(nil)
	defer Release(resp)

	assert.True(t, resp.IsSuccess())
}

func TestErrWithLang(t *testing.T) {
	resp := ErrWithLang(errors.ErrSessionNotFound, "zh")
	defer Release(resp)

	assert.Equal(t, errors.ErrSessionNotFound.MessageZH, resp.Message)
}

func TestHTTPStatusFallbackByCategory(t *testing.T) {
	// 未注册的错误码按类别推断 HTTP 状态
	code := errors.MakeCode(99, errors.CategoryRateLimit, 1)
	resp := ErrorWithCode(code, "unregistered")
	defer Release(resp)

	assert.Equal(t, http.StatusTooManyRequests, resp.HTTPStatus())
}

func TestWithRequestID(t *testing.T) {
	resp := Success(nil).WithRequestID("01JABCDEF0123456789ABCDEFG").WithTimestamp(1700000000000)
	defer Release(resp)

	assert.Equal(t, "01JABCDEF0123456789ABCDEFG", resp.RequestID)
	assert.Equal(t, int64(1700000000000), resp.Timestamp)
}

func TestReleaseResetsFields(t *testing.T) {
	resp := Success("payload")
	resp.RequestID = "req-1"
	Release(resp)

	reused := Acquire()
	defer Release(reused)

	assert.Equal(t, 0, reused.Code)
	assert.Empty(t, reused.Message)
	assert.Nil(t, reused.Data)
	assert.Empty(t, reused.RequestID)
}
