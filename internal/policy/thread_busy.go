package policy

import (
	"errors"

	"github.com/calebm/estimate-assistant-back/internal/domain"
)

var ErrThreadBusy = errors.New("thread has an unresolved estimate request")

// FindUnresolvedRequest scans an ordered event list for a request event
// that has not yet been answered by its matching response type. Only
// responses appended after the request count as resolution.
func FindUnresolvedRequest(events []domain.ChatEvent) (*domain.ChatEvent, bool) {
	var pending *domain.ChatEvent
	for i := range events {
		event := events[i]
		if domain.IsRequestType(event.Type) {
			pending = &events[i]
			continue
		}
		if pending != nil {
			if responseType, ok := domain.ResponseTypeFor(pending.Type); ok && event.Type == responseType {
				pending = nil
			}
		}
	}
	if pending == nil {
		return nil, false
	}
	return pending, true
}

// EnsureThreadIdle rejects new user input while an estimate request is
// in flight. The caller returns the error without touching the log.
func EnsureThreadIdle(events []domain.ChatEvent) error {
	if _, busy := FindUnresolvedRequest(events); busy {
		return ErrThreadBusy
	}
	return nil
}
