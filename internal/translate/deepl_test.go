package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/squeeko/squeeko/internal/common"
)

func TestTranslate_SendsFormAndReturnsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/translate" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "DeepL-Auth-Key test-key" {
			t.Errorf("missing auth header, got %q", r.Header.Get("Authorization"))
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("text") != "привет" {
			t.Errorf("text not forwarded: %q", r.PostForm.Get("text"))
		}
		if r.PostForm.Get("target_lang") != "EN" {
			t.Errorf("target_lang must be uppercased, got %q", r.PostForm.Get("target_lang"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"translations": []map[string]string{
				{"detected_source_language": "RU", "text": "hello"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	got, err := c.Translate(context.Background(), "привет", "en")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}
}

func TestTranslate_EmptyTranslationsIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"translations": []any{}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	_, err := c.Translate(context.Background(), "text", "EN")
	if !errors.Is(err, common.ErrMalformedResponse) {
		t.Fatalf("expected malformed response error, got %v", err)
	}
}

func TestTranslate_ErrorMapping(t *testing.T) {
	cases := []struct {
		name      string
		code      int
		target    error
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, common.ErrRateLimited, true},
		{"server error", http.StatusBadGateway, common.ErrProviderUnavailable, true},
		{"quota exceeded", 456, common.ErrProviderRejected, false},
		{"bad request", http.StatusBadRequest, common.ErrProviderRejected, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "k")
			_, err := c.Translate(context.Background(), "text", "EN")
			if !errors.Is(err, tc.target) {
				t.Fatalf("status %d: expected %v, got %v", tc.code, tc.target, err)
			}
			if common.Retryable(err) != tc.retryable {
				t.Fatalf("status %d: retryable mismatch", tc.code)
			}
		})
	}
}
