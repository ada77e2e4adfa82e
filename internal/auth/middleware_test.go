package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const (
	testSecret = "test-secret"
	testIssuer = "squeeko-test"
)

func protectedEcho(t *testing.T, hit *bool) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			t.Error("expected claims on request context")
		}
		*hit = true
		w.WriteHeader(http.StatusOK)
	})
}

func doAuthRequest(t *testing.T, handler http.Handler, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestJWTMiddleware_ValidTokenPasses(t *testing.T) {
	token, err := NewToken(testSecret, testIssuer, "user-1", []string{"user"}, time.Minute)
	if err != nil {
		t.Fatalf("NewToken error: %v", err)
	}

	var hit bool
	handler := JWTMiddleware(testSecret, testIssuer)(protectedEcho(t, &hit))

	rec := doAuthRequest(t, handler, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !hit {
		t.Fatal("expected inner handler to run")
	}
}

func TestJWTMiddleware_Rejections(t *testing.T) {
	wrongIssuer, err := NewToken(testSecret, "someone-else", "user-1", []string{"user"}, time.Minute)
	if err != nil {
		t.Fatalf("NewToken error: %v", err)
	}
	wrongSecret, err := NewToken("other-secret", testIssuer, "user-1", []string{"user"}, time.Minute)
	if err != nil {
		t.Fatalf("NewToken error: %v", err)
	}
	expired, err := NewToken(testSecret, testIssuer, "user-1", []string{"user"}, -time.Minute)
	if err != nil {
		t.Fatalf("NewToken error: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"garbage token", "not-a-jwt"},
		{"wrong issuer", wrongIssuer},
		{"wrong secret", wrongSecret},
		{"expired token", expired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hit bool
			handler := JWTMiddleware(testSecret, testIssuer)(protectedEcho(t, &hit))
			rec := doAuthRequest(t, handler, tt.token)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if hit {
				t.Fatal("inner handler must not run")
			}
		})
	}
}

func TestRequirePerm_RoleGating(t *testing.T) {
	middleware := func(roles []string, required string) (*httptest.ResponseRecorder, *bool) {
		token, err := NewToken(testSecret, testIssuer, "user-1", roles, time.Minute)
		if err != nil {
			t.Fatalf("NewToken error: %v", err)
		}
		var hit bool
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hit = true
			w.WriteHeader(http.StatusOK)
		})
		handler := JWTMiddleware(testSecret, testIssuer)(RequirePerm(required)(inner))
		return doAuthRequest(t, handler, token), &hit
	}

	rec, hit := middleware([]string{"user"}, PermJobSubmit)
	if rec.Code != http.StatusOK || !*hit {
		t.Fatalf("user must submit jobs, got %d", rec.Code)
	}

	rec, hit = middleware([]string{"user"}, PermAdminAll)
	if rec.Code != http.StatusForbidden || *hit {
		t.Fatalf("user must not reach admin routes, got %d", rec.Code)
	}

	rec, hit = middleware([]string{"admin"}, PermJobSubmit)
	if rec.Code != http.StatusOK || !*hit {
		t.Fatalf("admin must pass every permission gate, got %d", rec.Code)
	}
}
