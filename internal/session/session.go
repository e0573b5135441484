// Package session implements the interaction WebSocket: the per-connection
// handshake, the receive loop that buffers audio and dispatches client
// messages, and the ordered delivery of reply events.
package session

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/robi/internal/engine"
	"github.com/scrypster/robi/internal/expression"
	"github.com/scrypster/robi/internal/llm"
	"github.com/scrypster/robi/internal/metrics"
	"github.com/scrypster/robi/internal/pipeline"
	"github.com/scrypster/robi/internal/protocol"
	"github.com/scrypster/robi/pkg/types"
)

// ErrAuthFailed is returned when the handshake does not complete.
var ErrAuthFailed = errors.New("session: authentication failed")

// strangerPrompt is the turn synthesized when an unknown face appears.
const strangerPrompt = "[SYSTEM] An unknown person has just appeared in front of you. Greet them warmly and ask for their name."

// State is a connection's position in its lifecycle.
type State int

// Connection states. CLOSED is terminal.
const (
	StateConnecting State = iota
	StateAwaitingAuth
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingAuth:
		return "AWAITING_AUTH"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Conn is the WebSocket surface a session uses. *websocket.Conn satisfies it.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// TurnRunner executes one turn. pipeline.Pipeline satisfies it.
type TurnRunner interface {
	Run(ctx context.Context, in pipeline.Input, emit pipeline.Emitter) error
}

// PersonToucher records that a known person was seen again.
type PersonToucher interface {
	TouchPerson(ctx context.Context, personID string) error
}

// Config holds per-connection settings.
type Config struct {
	// APIKey is the shared secret clients present in the auth message.
	APIKey string

	// AuthTimeout bounds the wait for the auth message (default: 10s).
	AuthTimeout time.Duration

	// WriteTimeout bounds a single event write (default: 10s).
	WriteTimeout time.Duration

	// MaxMessageBytes caps one inbound message, media included (default: 32 MiB).
	MaxMessageBytes int64

	// MaxAudioBytes caps the audio buffered across binary frames before
	// audio_end (default: MaxMessageBytes).
	MaxAudioBytes int64

	// OriginPatterns are accepted browser origins. Native clients send none.
	OriginPatterns []string
}

// DefaultConfig returns the default session settings without an API key.
func DefaultConfig() Config {
	return Config{
		AuthTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxMessageBytes: 32 << 20,
	}
}

// Handler upgrades HTTP requests to interaction sessions.
type Handler struct {
	config Config
	turns  TurnRunner
	people PersonToucher
	sched  pipeline.Scheduler
}

// NewHandler creates a session handler. people and sched may be nil, in
// which case re-identified people are not touched.
func NewHandler(cfg Config, turns TurnRunner, people PersonToucher, sched pipeline.Scheduler) (*Handler, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("session: an API key is required")
	}
	if turns == nil {
		return nil, fmt.Errorf("session: a turn runner is required")
	}
	d := DefaultConfig()
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = d.AuthTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = d.MaxMessageBytes
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = cfg.MaxMessageBytes
	}
	return &Handler{config: cfg, turns: turns, people: people, sched: sched}, nil
}

// ServeHTTP accepts the WebSocket and runs the session until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{ //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		OriginPatterns: h.config.OriginPatterns,
	})
	if err != nil {
		log.Printf("ERROR: ws: upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(h.config.MaxMessageBytes)

	s := h.newSession(conn)
	s.Serve(r.Context())
}

func (h *Handler) newSession(conn Conn) *Session {
	return &Session{handler: h, conn: conn, state: StateConnecting}
}

// Session is one client connection. Its methods run on the connection's
// goroutine only.
type Session struct {
	handler *Handler
	conn    Conn
	state   State
	id      string

	personID    string
	requestID   string
	audio       bytes.Buffer
	pendingFace []byte
}

// ID returns the session id assigned at authentication.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Serve authenticates the connection and runs the receive loop. The session
// always ends in StateClosed.
func (s *Session) Serve(ctx context.Context) {
	s.state = StateAwaitingAuth
	if err := s.authenticate(ctx); err != nil {
		log.Printf("WARNING: ws: %v", err)
		s.state = StateClosed
		return
	}

	s.state = StateActive
	metrics.SessionOpened()
	log.Printf("ws: session %s authenticated", s.id)

	defer func() {
		s.state = StateClosed
		metrics.SessionClosed()
		log.Printf("ws: session %s closed", s.id)
	}()

	if err := s.loop(ctx); err != nil {
		log.Printf("ERROR: ws: session %s: %v", s.id, err)
		_ = s.Emit(ctx, protocol.NewError(protocol.CodeInternalError, "internal server error", "", false))
		_ = s.conn.Close(websocket.StatusInternalError, "internal error") //nolint:staticcheck
		return
	}
	_ = s.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck
}

type readResult struct {
	typ  websocket.MessageType //nolint:staticcheck
	data []byte
	err  error
}

// authenticate waits for the auth message. Reading happens on its own
// goroutine because a cancelled read context closes the connection before
// the timeout error could be sent.
func (s *Session) authenticate(ctx context.Context) error {
	results := make(chan readResult, 1)
	go func() {
		typ, data, err := s.conn.Read(ctx)
		results <- readResult{typ: typ, data: data, err: err}
	}()

	timer := time.NewTimer(s.handler.config.AuthTimeout)
	defer timer.Stop()

	var res readResult
	select {
	case res = <-results:
	case <-timer.C:
		return s.reject(ctx, protocol.CodeAuthTimeout, "timed out waiting for authentication")
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrAuthFailed, ctx.Err())
	}

	if res.err != nil {
		return fmt.Errorf("%w: read failed: %v", ErrAuthFailed, res.err)
	}
	if res.typ != websocket.MessageText { //nolint:staticcheck
		return s.reject(ctx, protocol.CodeInvalidMessage, "the first message must be a JSON auth message")
	}

	msg, err := protocol.Decode(res.data)
	if err != nil {
		return s.reject(ctx, protocol.CodeInvalidMessage, "the first message must be a JSON auth message")
	}
	auth, ok := msg.(*protocol.Auth)
	if !ok {
		return s.reject(ctx, protocol.CodeInvalidMessage, "the first message must be of type auth")
	}
	if !validKey(auth.APIKey, s.handler.config.APIKey) {
		return s.reject(ctx, protocol.CodeInvalidAPIKey, "invalid API key")
	}

	s.id = uuid.NewString()
	if err := s.Emit(ctx, protocol.NewAuthOK(s.id)); err != nil {
		return fmt.Errorf("%w: failed to send auth_ok: %v", ErrAuthFailed, err)
	}
	if auth.DeviceID != "" {
		log.Printf("ws: session %s device %s", s.id, auth.DeviceID)
	}
	return nil
}

// validKey compares in constant time. An empty secret never matches.
func validKey(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// reject sends a fatal error and closes with a policy violation.
func (s *Session) reject(ctx context.Context, code, message string) error {
	metrics.AuthFailed(code)
	_ = s.Emit(ctx, protocol.NewError(code, message, "", false))
	_ = s.conn.Close(websocket.StatusPolicyViolation, message) //nolint:staticcheck
	return fmt.Errorf("%w: %s", ErrAuthFailed, code)
}

// loop reads until the client disconnects. A returned error is internal and
// fatal; a normal disconnect returns nil.
func (s *Session) loop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in receive loop: %v\n%s", r, debug.Stack())
		}
	}()

	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 { //nolint:staticcheck
				log.Printf("ws: session %s disconnected (%d)", s.id, status)
			}
			return nil
		}

		if typ == websocket.MessageBinary { //nolint:staticcheck
			if err := s.bufferAudio(ctx, data); err != nil {
				return nil
			}
			continue
		}

		msg, decodeErr := protocol.Decode(data)
		if decodeErr != nil {
			if err := s.invalid(ctx, "", decodeErr.Error()); err != nil {
				return nil
			}
			continue
		}
		if err := s.dispatch(ctx, msg); err != nil {
			if errors.Is(err, errConnection) {
				return nil
			}
			return err
		}
	}
}

// bufferAudio appends a frame to the pending audio. Overflowing the cap
// drops everything buffered so far and reports a recoverable error.
func (s *Session) bufferAudio(ctx context.Context, data []byte) error {
	limit := s.handler.config.MaxAudioBytes
	if int64(s.audio.Len())+int64(len(data)) > limit {
		s.audio.Reset()
		return s.invalid(ctx, s.requestID, fmt.Sprintf("buffered audio exceeds %d bytes", limit))
	}
	s.audio.Write(data)
	return nil
}

// errConnection marks an emit failure; the peer is gone.
var errConnection = errors.New("connection lost")

// Emit writes one event as JSON. It satisfies pipeline.Emitter.
func (s *Session) Emit(ctx context.Context, ev protocol.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.EventKind(), err)
	}
	wctx, cancel := context.WithTimeout(ctx, s.handler.config.WriteTimeout)
	defer cancel()
	if err := s.conn.Write(wctx, websocket.MessageText, data); err != nil { //nolint:staticcheck
		return fmt.Errorf("%w: %v", errConnection, err)
	}
	return nil
}

func (s *Session) invalid(ctx context.Context, requestID, message string) error {
	return s.Emit(ctx, protocol.NewError(protocol.CodeInvalidMessage, message, requestID, true))
}

// resolveRequestID prefers the message's id, then the interaction's, then
// a fresh one.
func (s *Session) resolveRequestID(id string) string {
	if id != "" {
		s.requestID = id
	} else if s.requestID == "" {
		s.requestID = uuid.NewString()
	}
	return s.requestID
}

// takeFace returns the embedding for this turn: the message's own, or the
// one stashed by interaction_start. The stash is consumed unless the
// message's embedding is malformed.
func (s *Session) takeFace(encoded string) ([]byte, error) {
	if encoded == "" {
		face := s.pendingFace
		s.pendingFace = nil
		return face, nil
	}
	raw, err := protocol.DecodeBase64(encoded)
	if err != nil {
		return nil, err
	}
	if len(raw) != types.FaceEmbeddingDim*4 {
		return nil, fmt.Errorf("face_embedding must hold %d float32 values", types.FaceEmbeddingDim)
	}
	s.pendingFace = nil
	return raw, nil
}

func (s *Session) dispatch(ctx context.Context, msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.InteractionStart:
		s.personID = m.PersonID
		s.requestID = m.RequestID
		s.audio.Reset()
		s.pendingFace = nil
		if m.FaceEmbedding != "" {
			face, err := s.takeFace(m.FaceEmbedding)
			if err != nil {
				return s.invalid(ctx, m.RequestID, err.Error())
			}
			s.pendingFace = face
		}
		return nil

	case *protocol.Text:
		reqID := s.resolveRequestID(m.RequestID)
		if m.Content == "" {
			return s.invalid(ctx, reqID, "text content is empty")
		}
		face, err := s.takeFace(m.FaceEmbedding)
		if err != nil {
			return s.invalid(ctx, reqID, err.Error())
		}
		return s.turn(ctx, pipeline.Input{Kind: protocol.KindText, RequestID: reqID, Text: m.Content, FaceEmbedding: face})

	case *protocol.AudioEnd:
		reqID := s.resolveRequestID(m.RequestID)
		if s.audio.Len() == 0 {
			return s.Emit(ctx, protocol.NewError(protocol.CodeEmptyAudio, "no audio data was received", reqID, true))
		}
		face, err := s.takeFace(m.FaceEmbedding)
		if err != nil {
			return s.invalid(ctx, reqID, err.Error())
		}
		audio := make([]byte, s.audio.Len())
		copy(audio, s.audio.Bytes())
		s.audio.Reset()
		return s.turn(ctx, pipeline.Input{
			Kind:          protocol.KindAudioEnd,
			RequestID:     reqID,
			Media:         []llm.Part{{MimeType: protocol.DefaultAudioMime, Data: audio}},
			FaceEmbedding: face,
		})

	case *protocol.Image:
		reqID := s.resolveRequestID(m.RequestID)
		data, err := protocol.DecodeBase64(m.Data)
		if err != nil || len(data) == 0 {
			return s.invalid(ctx, reqID, "image data must be non-empty base64")
		}
		face, err := s.takeFace(m.FaceEmbedding)
		if err != nil {
			return s.invalid(ctx, reqID, err.Error())
		}
		return s.turn(ctx, pipeline.Input{
			Kind:          protocol.KindImage,
			RequestID:     reqID,
			Text:          m.Text,
			Media:         []llm.Part{{MimeType: protocol.MimeOr(m.MimeType, protocol.DefaultImageMime), Data: data}},
			FaceEmbedding: face,
		})

	case *protocol.Video:
		reqID := s.resolveRequestID(m.RequestID)
		data, err := protocol.DecodeBase64(m.Data)
		if err != nil || len(data) == 0 {
			return s.invalid(ctx, reqID, "video data must be non-empty base64")
		}
		face, _ := s.takeFace("")
		return s.turn(ctx, pipeline.Input{
			Kind:          protocol.KindVideo,
			RequestID:     reqID,
			Text:          m.Text,
			Media:         []llm.Part{{MimeType: protocol.MimeOr(m.MimeType, protocol.DefaultVideoMime), Data: data}},
			FaceEmbedding: face,
		})

	case *protocol.Multimodal:
		return s.multimodal(ctx, m)

	case *protocol.FaceScanMode:
		reqID := s.resolveRequestID(m.RequestID)
		return s.Emit(ctx, protocol.NewFaceScanActions(reqID, expression.FaceScanActions()))

	case *protocol.PersonDetected:
		reqID := s.resolveRequestID(m.RequestID)
		if m.Known && m.PersonID != "" {
			s.personID = m.PersonID
			s.touch(m.PersonID)
			return nil
		}
		s.personID = ""
		face, _ := s.takeFace("")
		return s.turn(ctx, pipeline.Input{
			Kind:          protocol.KindPersonDetected,
			RequestID:     reqID,
			Text:          strangerPrompt,
			FaceEmbedding: face,
		})

	case *protocol.Auth:
		return s.invalid(ctx, "", "session is already authenticated")
	}
	return s.invalid(ctx, "", fmt.Sprintf("unsupported message type %q", msg.Kind()))
}

func (s *Session) multimodal(ctx context.Context, m *protocol.Multimodal) error {
	reqID := s.resolveRequestID(m.RequestID)

	var parts []llm.Part
	for _, media := range []struct {
		data, mime, fallback string
	}{
		{m.Audio, m.AudioMime, protocol.DefaultAudioMime},
		{m.Image, m.ImageMime, protocol.DefaultImageMime},
		{m.Video, m.VideoMime, protocol.DefaultVideoMime},
	} {
		if media.data == "" {
			continue
		}
		data, err := protocol.DecodeBase64(media.data)
		if err != nil || len(data) == 0 {
			return s.invalid(ctx, reqID, "multimodal media must be non-empty base64")
		}
		parts = append(parts, llm.Part{MimeType: protocol.MimeOr(media.mime, media.fallback), Data: data})
	}
	if m.Text == "" && len(parts) == 0 {
		return s.invalid(ctx, reqID, "multimodal message carries no content")
	}

	face, err := s.takeFace(m.FaceEmbedding)
	if err != nil {
		return s.invalid(ctx, reqID, err.Error())
	}
	return s.turn(ctx, pipeline.Input{
		Kind:          protocol.KindMultimodal,
		RequestID:     reqID,
		Text:          m.Text,
		Media:         parts,
		FaceEmbedding: face,
	})
}

// turn runs the pipeline to completion before the loop reads again.
func (s *Session) turn(ctx context.Context, in pipeline.Input) error {
	in.PersonID = s.personID
	return s.handler.turns.Run(ctx, in, s)
}

func (s *Session) touch(personID string) {
	h := s.handler
	if h.people == nil || h.sched == nil {
		return
	}
	h.sched.Submit(engine.Task{Name: "person_touch", Run: func(ctx context.Context) error {
		return h.people.TouchPerson(ctx, personID)
	}})
}
