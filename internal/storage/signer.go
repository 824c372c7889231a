package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

var ErrObjectNotFound = errors.New("storage object not found")

// Signer produces time-limited download URLs for project files. External
// compute receives these URLs instead of raw storage credentials.
type Signer interface {
	SignURL(ctx context.Context, bucket string, objectPath string, expiry time.Duration) (string, error)
}

type SupabaseSignerConfig struct {
	BaseURL    string
	ServiceKey string
	Timeout    time.Duration
}

// SupabaseSigner signs object URLs through the Supabase storage API.
type SupabaseSigner struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

func NewSupabaseSigner(config SupabaseSignerConfig) *SupabaseSigner {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SupabaseSigner{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		serviceKey: config.ServiceKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *SupabaseSigner) Available() bool {
	return s.baseURL != "" && s.serviceKey != ""
}

func (s *SupabaseSigner) SignURL(
	ctx context.Context,
	bucket string,
	objectPath string,
	expiry time.Duration,
) (string, error) {
	if !s.Available() {
		return "", errors.New("storage signer not configured")
	}
	if expiry <= 0 {
		expiry = time.Hour
	}

	endpoint := fmt.Sprintf(
		"%s/storage/v1/object/sign/%s/%s",
		s.baseURL, bucket, strings.TrimLeft(objectPath, "/"),
	)
	payload, err := json.Marshal(map[string]any{
		"expiresIn": int(expiry.Seconds()),
	})
	if err != nil {
		return "", fmt.Errorf("encode sign request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build sign request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+s.serviceKey)

	response, err := s.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("execute sign request: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read sign response: %w", err)
	}
	if response.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, objectPath)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", fmt.Errorf("storage sign status %d: %s", response.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode sign response: %w", err)
	}
	if decoded.SignedURL == "" {
		return "", errors.New("sign response missing signedURL")
	}
	return s.baseURL + "/storage/v1" + decoded.SignedURL, nil
}

// MemorySigner serves local development and tests: it hands out
// deterministic fake URLs without any network dependency.
type MemorySigner struct {
	mu       sync.Mutex
	objects  map[string]struct{}
	AllowAll bool
}

func NewMemorySigner() *MemorySigner {
	return &MemorySigner{objects: make(map[string]struct{}), AllowAll: true}
}

// AddObject registers an object so AllowAll can be switched off in
// tests that exercise the not-found path.
func (s *MemorySigner) AddObject(bucket string, objectPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+objectPath] = struct{}{}
}

func (s *MemorySigner) SignURL(
	_ context.Context,
	bucket string,
	objectPath string,
	expiry time.Duration,
) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bucket + "/" + objectPath
	if !s.AllowAll {
		if _, exists := s.objects[key]; !exists {
			return "", fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
	}
	if expiry <= 0 {
		expiry = time.Hour
	}
	return fmt.Sprintf("memory://%s?expires_in=%d", key, int(expiry.Seconds())), nil
}
