package errors

import (
	"net/http"
	"testing"
)

// 测试专用服务代码, 避开真实服务的取值范围
const serviceBuilderTest = 75

func TestBuilderBuild(t *testing.T) {
	e, err := NewBuilder(serviceBuilderTest, CategoryRequest, 1).
		HTTP(http.StatusBadRequest).
		Message("Builder test error", "构建器测试错误").
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if e.Code != MakeCode(serviceBuilderTest, CategoryRequest, 1) {
		t.Errorf("unexpected code %d", e.Code)
	}
	if e.HTTPStatus() != http.StatusBadRequest {
		t.Errorf("HTTPStatus() = %d", e.HTTPStatus())
	}

	// 重复构建同一编码必须报错
	if _, err := NewBuilder(serviceBuilderTest, CategoryRequest, 1).
		Message("dup", "").Build(); err == nil {
		t.Error("duplicate Build() should fail")
	}
}

func TestBuilderRequiresMessage(t *testing.T) {
	if _, err := NewBuilder(serviceBuilderTest, CategoryRequest, 2).Build(); err == nil {
		t.Error("Build() without English message should fail")
	}
}

func TestPresetBuilders(t *testing.T) {
	tests := []struct {
		name     string
		builder  *ErrnoBuilder
		wantHTTP int
	}{
		{"request", NewRequestError(serviceBuilderTest, 10), http.StatusBadRequest},
		{"auth", NewAuthError(serviceBuilderTest, 10), http.StatusUnauthorized},
		{"not found", NewNotFoundError(serviceBuilderTest, 10), http.StatusNotFound},
		{"rate limit", NewRateLimitError(serviceBuilderTest, 10), http.StatusTooManyRequests},
		{"internal", NewInternalError(serviceBuilderTest, 10), http.StatusInternalServerError},
		{"timeout", NewTimeoutError(serviceBuilderTest, 10), http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := tt.builder.Message("preset "+tt.name, "").MustBuild()
			if e.HTTPStatus() != tt.wantHTTP {
				t.Errorf("HTTPStatus() = %d, want %d", e.HTTPStatus(), tt.wantHTTP)
			}
		})
	}
}

func TestRegisterService(t *testing.T) {
	RegisterService(serviceBuilderTest, "builder-test")
	// 同名重复注册应当幂等
	RegisterService(serviceBuilderTest, "builder-test")

	name, ok := GetServiceName(serviceBuilderTest)
	if !ok || name != "builder-test" {
		t.Errorf("GetServiceName() = %q, %v", name, ok)
	}

	defer func() {
		if recover() == nil {
			t.Error("conflicting service registration should panic")
		}
	}()
	RegisterService(serviceBuilderTest, "other-name")
}
