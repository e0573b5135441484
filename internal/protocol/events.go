package protocol

import "github.com/scrypster/robi/internal/expression"

// Server to client kinds.
const (
	KindAuthOK          Kind = "auth_ok"
	KindEmotion         Kind = "emotion"
	KindTextChunk       Kind = "text_chunk"
	KindCaptureRequest  Kind = "capture_request"
	KindFaceScanActions Kind = "face_scan_actions"
	KindResponseMeta    Kind = "response_meta"
	KindStreamEnd       Kind = "stream_end"
	KindError           Kind = "error"
)

// Error codes carried by error events.
const (
	CodeAuthTimeout    = "AUTH_TIMEOUT"
	CodeInvalidAPIKey  = "INVALID_API_KEY"
	CodeInvalidMessage = "INVALID_MESSAGE"
	CodeEmptyAudio     = "EMPTY_AUDIO"
	CodeAgentError     = "AGENT_ERROR"
	CodeInternalError  = "INTERNAL_ERROR"
)

// Event is a server message. Type is always set by the constructors.
type Event interface {
	EventKind() Kind
}

// AuthOK acknowledges a successful handshake.
type AuthOK struct {
	Type      Kind   `json:"type"`
	SessionID string `json:"session_id"`
}

// Emotion is sent first in every reply so the face can change immediately.
type Emotion struct {
	Type             Kind   `json:"type"`
	RequestID        string `json:"request_id"`
	Emotion          string `json:"emotion"`
	PersonIdentified string `json:"person_identified,omitempty"`
}

// TextChunk carries reply text.
type TextChunk struct {
	Type      Kind   `json:"type"`
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
}

// CaptureRequest asks the app to take a photo or record a video.
type CaptureRequest struct {
	Type        Kind   `json:"type"`
	RequestID   string `json:"request_id"`
	CaptureType string `json:"capture_type"`
}

// FaceScanActions is the movement performed in face scan mode.
type FaceScanActions struct {
	Type      Kind                `json:"type"`
	RequestID string              `json:"request_id"`
	Actions   []expression.Action `json:"actions"`
}

// ResponseMeta closes the content of a reply with its expression and actions.
type ResponseMeta struct {
	Type         Kind                `json:"type"`
	RequestID    string              `json:"request_id"`
	ResponseText string              `json:"response_text"`
	Expression   expression.Payload  `json:"expression"`
	Actions      []expression.Action `json:"actions"`
	PersonName   string              `json:"person_name,omitempty"`
}

// StreamEnd terminates a reply.
type StreamEnd struct {
	Type             Kind   `json:"type"`
	RequestID        string `json:"request_id"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}

// Error reports a failure. Recoverable errors leave the session open.
type Error struct {
	Type        Kind   `json:"type"`
	ErrorCode   string `json:"error_code"`
	Message     string `json:"message"`
	RequestID   string `json:"request_id,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

func (AuthOK) EventKind() Kind          { return KindAuthOK }
func (Emotion) EventKind() Kind         { return KindEmotion }
func (TextChunk) EventKind() Kind       { return KindTextChunk }
func (CaptureRequest) EventKind() Kind  { return KindCaptureRequest }
func (FaceScanActions) EventKind() Kind { return KindFaceScanActions }
func (ResponseMeta) EventKind() Kind    { return KindResponseMeta }
func (StreamEnd) EventKind() Kind       { return KindStreamEnd }
func (Error) EventKind() Kind           { return KindError }

// NewAuthOK builds an auth_ok event.
func NewAuthOK(sessionID string) *AuthOK {
	return &AuthOK{Type: KindAuthOK, SessionID: sessionID}
}

// NewEmotion builds an emotion event. personID may be empty.
func NewEmotion(requestID, emotion, personID string) *Emotion {
	return &Emotion{Type: KindEmotion, RequestID: requestID, Emotion: emotion, PersonIdentified: personID}
}

// NewTextChunk builds a text_chunk event.
func NewTextChunk(requestID, text string) *TextChunk {
	return &TextChunk{Type: KindTextChunk, RequestID: requestID, Text: text}
}

// NewCaptureRequest builds a capture_request event.
func NewCaptureRequest(requestID, captureType string) *CaptureRequest {
	return &CaptureRequest{Type: KindCaptureRequest, RequestID: requestID, CaptureType: captureType}
}

// NewFaceScanActions builds a face_scan_actions event.
func NewFaceScanActions(requestID string, actions []expression.Action) *FaceScanActions {
	if actions == nil {
		actions = []expression.Action{}
	}
	return &FaceScanActions{Type: KindFaceScanActions, RequestID: requestID, Actions: actions}
}

// NewResponseMeta builds a response_meta event.
func NewResponseMeta(requestID, text string, expr expression.Payload, actions []expression.Action, personName string) *ResponseMeta {
	if actions == nil {
		actions = []expression.Action{}
	}
	return &ResponseMeta{
		Type:         KindResponseMeta,
		RequestID:    requestID,
		ResponseText: text,
		Expression:   expr,
		Actions:      actions,
		PersonName:   personName,
	}
}

// NewStreamEnd builds a stream_end event.
func NewStreamEnd(requestID string, processingMs int64) *StreamEnd {
	return &StreamEnd{Type: KindStreamEnd, RequestID: requestID, ProcessingTimeMs: processingMs}
}

// NewError builds an error event.
func NewError(code, message, requestID string, recoverable bool) *Error {
	return &Error{Type: KindError, ErrorCode: code, Message: message, RequestID: requestID, Recoverable: recoverable}
}
