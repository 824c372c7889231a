package handlers

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/calebm/estimate-assistant-back/internal/http/middleware"
	"github.com/calebm/estimate-assistant-back/internal/repository"
	"github.com/calebm/estimate-assistant-back/internal/service"
)

var errInvalidPayload = errors.New("invalid payload")

type API struct {
	chatService *service.ChatService
	jobsService *service.JobsService
	estimates   repository.EstimatesRepository
	idempotency *idempotencyStore
}

func NewAPI(
	chatService *service.ChatService,
	jobsService *service.JobsService,
	estimates repository.EstimatesRepository,
) *API {
	return &API{
		chatService: chatService,
		jobsService: jobsService,
		estimates:   estimates,
		idempotency: newIdempotencyStore(),
	}
}

type postMessageRequest struct {
	ThreadID  string `json:"thread_id,omitempty"`
	ProjectID string `json:"project_id"`
	Message   string `json:"message"`
}

type generateEstimateRequest struct {
	FileIDs       []string `json:"file_ids"`
	ChangesToMake string   `json:"changes_to_make,omitempty"`
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

func validateID(value string, maxLen int) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || len(trimmed) > maxLen {
		return errInvalidPayload
	}
	return nil
}

func parseOptionalDateTime(value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, value)
		if err != nil {
			return nil, errInvalidPayload
		}
	}
	return &parsed, nil
}

type idempotencyEntry struct {
	PayloadHash uint64
	JobID       string
	CreatedAt   time.Time
}

type idempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
}

func newIdempotencyStore() *idempotencyStore {
	return &idempotencyStore{
		entries: make(map[string]idempotencyEntry),
	}
}

func (s *idempotencyStore) Get(key string) (idempotencyEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	return entry, ok
}

func (s *idempotencyStore) Put(key string, payloadHash uint64, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = idempotencyEntry{
		PayloadHash: payloadHash,
		JobID:       jobID,
		CreatedAt:   time.Now().UTC(),
	}
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}
