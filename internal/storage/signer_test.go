package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSupabaseSignerSignURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path != "/storage/v1/object/sign/project-files/proj-1/photo.jpg" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not_found"}`))
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer service-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"signedURL":"/object/sign/project-files/proj-1/photo.jpg?token=abc"}`))
	}))
	defer server.Close()

	signer := NewSupabaseSigner(SupabaseSignerConfig{
		BaseURL:    server.URL,
		ServiceKey: "service-key",
	})

	url, err := signer.SignURL(context.Background(), "project-files", "proj-1/photo.jpg", time.Hour)
	if err != nil {
		t.Fatalf("SignURL: %v", err)
	}
	want := server.URL + "/storage/v1/object/sign/project-files/proj-1/photo.jpg?token=abc"
	if url != want {
		t.Errorf("url = %q, want %q", url, want)
	}
}

func TestSupabaseSignerNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Object not found"}`))
	}))
	defer server.Close()

	signer := NewSupabaseSigner(SupabaseSignerConfig{
		BaseURL:    server.URL,
		ServiceKey: "service-key",
	})

	_, err := signer.SignURL(context.Background(), "project-files", "missing.jpg", time.Hour)
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("err = %v, want ErrObjectNotFound", err)
	}
}

func TestMemorySigner(t *testing.T) {
	signer := NewMemorySigner()

	url, err := signer.SignURL(context.Background(), "project-files", "proj-1/photo.jpg", 30*time.Minute)
	if err != nil {
		t.Fatalf("SignURL: %v", err)
	}
	if !strings.HasPrefix(url, "memory://project-files/proj-1/photo.jpg") {
		t.Errorf("url = %q", url)
	}
	if !strings.Contains(url, "expires_in=1800") {
		t.Errorf("url = %q, want the expiry encoded", url)
	}

	signer.AllowAll = false
	if _, err := signer.SignURL(context.Background(), "project-files", "other.jpg", time.Hour); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("err = %v, want ErrObjectNotFound", err)
	}

	signer.AddObject("project-files", "other.jpg")
	if _, err := signer.SignURL(context.Background(), "project-files", "other.jpg", time.Hour); err != nil {
		t.Errorf("SignURL after AddObject: %v", err)
	}
}
