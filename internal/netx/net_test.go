package netx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	t.Run("success 200 OK", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				t.Errorf("method = %q, want GET", r.Method)
			}
			_, _ = io.WriteString(w, "mapsforge")
		}))
		defer ts.Close()

		body, err := Get(context.Background(), ts.Client(), ts.URL+"/berlin.map")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer body.Close()
		b, _ := io.ReadAll(body)
		if string(b) != "mapsforge" {
			t.Fatalf("body = %q", string(b))
		}
	})

	t.Run("404 -> ErrNotFound", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		defer ts.Close()

		_, err := Get(context.Background(), nil, ts.URL+"/missing.map")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("500 -> error with status and body", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, "disk full")
		}))
		defer ts.Close()

		_, err := Get(context.Background(), ts.Client(), ts.URL)
		if err == nil {
			t.Fatal("expected error")
		}
		if errors.Is(err, ErrNotFound) {
			t.Fatal("500 must not map to ErrNotFound")
		}
		if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "disk full") {
			t.Fatalf("error should contain status and body, got %q", err.Error())
		}
	})

	t.Run("bad URL", func(t *testing.T) {
		if _, err := Get(context.Background(), nil, "://bad"); err == nil {
			t.Fatal("expected error for bad URL")
		}
	})
}
