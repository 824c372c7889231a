package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventUserInput              EventType = "user_input"
	EventAssistantMessage       EventType = "assistant_message"
	EventUpdateEstimateRequest  EventType = "update_estimate_request"
	EventUpdateEstimateResponse EventType = "update_estimate_response"
	EventPatchEstimateRequest   EventType = "patch_estimate_request"
	EventPatchEstimateResponse  EventType = "patch_estimate_response"
)

// ChatThread owns an append-only ordered sequence of chat events.
type ChatThread struct {
	ID          string
	ProjectID   string
	DisplayName string
	CreatedAt   time.Time
}

// ChatEvent is a single entry in a thread's event log. Events are never
// mutated or reordered after append.
type ChatEvent struct {
	ID        string
	ThreadID  string
	Type      EventType
	Payload   EventPayload
	CreatedAt time.Time
}

// EventPayload is the tagged union carried by a ChatEvent. The concrete
// type is determined by ChatEvent.Type.
type EventPayload interface {
	EventType() EventType
}

type UserInputPayload struct {
	Message string `json:"message"`
}

type AssistantMessagePayload struct {
	Message string `json:"message"`
}

type UpdateEstimateRequestPayload struct {
	ChangesToMake string `json:"changes_to_make"`
}

type UpdateEstimateResponsePayload struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type PatchEstimateRequestPayload struct {
	Patches []Patch `json:"patches"`
}

type PatchEstimateResponsePayload struct {
	PatchResults []PatchResult `json:"patch_results"`
}

func (UserInputPayload) EventType() EventType              { return EventUserInput }
func (AssistantMessagePayload) EventType() EventType       { return EventAssistantMessage }
func (UpdateEstimateRequestPayload) EventType() EventType  { return EventUpdateEstimateRequest }
func (UpdateEstimateResponsePayload) EventType() EventType { return EventUpdateEstimateResponse }
func (PatchEstimateRequestPayload) EventType() EventType   { return EventPatchEstimateRequest }
func (PatchEstimateResponsePayload) EventType() EventType  { return EventPatchEstimateResponse }

// EncodePayload serializes a payload for storage. The event type tag is
// stored alongside, not inside, the encoded body.
func EncodePayload(payload EventPayload) (json.RawMessage, error) {
	if payload == nil {
		return nil, fmt.Errorf("event payload is nil")
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", payload.EventType(), err)
	}
	return encoded, nil
}

// DecodePayload rebuilds the typed payload from its stored form. Unknown
// event types and malformed bodies fail here, at the boundary.
func DecodePayload(eventType EventType, raw json.RawMessage) (EventPayload, error) {
	var payload EventPayload
	switch eventType {
	case EventUserInput:
		payload = &UserInputPayload{}
	case EventAssistantMessage:
		payload = &AssistantMessagePayload{}
	case EventUpdateEstimateRequest:
		payload = &UpdateEstimateRequestPayload{}
	case EventUpdateEstimateResponse:
		payload = &UpdateEstimateResponsePayload{}
	case EventPatchEstimateRequest:
		payload = &PatchEstimateRequestPayload{}
	case EventPatchEstimateResponse:
		payload = &PatchEstimateResponsePayload{}
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return derefPayload(payload), nil
}

func derefPayload(payload EventPayload) EventPayload {
	switch typed := payload.(type) {
	case *UserInputPayload:
		return *typed
	case *AssistantMessagePayload:
		return *typed
	case *UpdateEstimateRequestPayload:
		return *typed
	case *UpdateEstimateResponsePayload:
		return *typed
	case *PatchEstimateRequestPayload:
		return *typed
	case *PatchEstimateResponsePayload:
		return *typed
	default:
		return payload
	}
}

// IsRequestType reports whether the event type opens a pending request
// that a later response event resolves.
func IsRequestType(eventType EventType) bool {
	return eventType == EventUpdateEstimateRequest || eventType == EventPatchEstimateRequest
}

// ResponseTypeFor returns the response event type paired with a request
// event type.
func ResponseTypeFor(requestType EventType) (EventType, bool) {
	switch requestType {
	case EventUpdateEstimateRequest:
		return EventUpdateEstimateResponse, true
	case EventPatchEstimateRequest:
		return EventPatchEstimateResponse, true
	default:
		return "", false
	}
}
