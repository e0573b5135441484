package session

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"        //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	"nhooyr.io/websocket/wsjson" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/robi/internal/engine"
	"github.com/scrypster/robi/internal/expression"
	"github.com/scrypster/robi/internal/pipeline"
	"github.com/scrypster/robi/internal/protocol"
	"github.com/scrypster/robi/pkg/types"
)

const testKey = "K"

// echoRunner replies to every turn with a fixed happy reply.
type echoRunner struct {
	mu       sync.Mutex
	inputs   []pipeline.Input
	panicOn  string
	failWith string
}

func (r *echoRunner) Run(ctx context.Context, in pipeline.Input, emit pipeline.Emitter) error {
	r.mu.Lock()
	r.inputs = append(r.inputs, in)
	r.mu.Unlock()

	if r.panicOn != "" && in.Text == r.panicOn {
		panic("boom")
	}
	if r.failWith != "" {
		return emit.Emit(ctx, protocol.NewError(protocol.CodeAgentError, r.failWith, in.RequestID, true))
	}
	for _, ev := range []protocol.Event{
		protocol.NewEmotion(in.RequestID, "happy", in.PersonID),
		protocol.NewTextChunk(in.RequestID, "Hello!"),
		protocol.NewResponseMeta(in.RequestID, "Hello!", expression.NewPayload(nil, "happy"), nil, ""),
		protocol.NewStreamEnd(in.RequestID, 1),
	} {
		if err := emit.Emit(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (r *echoRunner) calls() []pipeline.Input {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pipeline.Input, len(r.inputs))
	copy(out, r.inputs)
	return out
}

type touchRecorder struct {
	mu      sync.Mutex
	touched []string
}

func (t *touchRecorder) TouchPerson(_ context.Context, personID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touched = append(t.touched, personID)
	return nil
}

// inlineScheduler runs tasks immediately.
type inlineScheduler struct{}

func (inlineScheduler) Submit(task engine.Task) bool {
	_ = task.Run(context.Background())
	return true
}

type event map[string]interface{}

func (e event) kind() string {
	s, _ := e["type"].(string)
	return s
}

func newTestServer(t *testing.T, runner *echoRunner, people PersonToucher, authTimeout time.Duration) *httptest.Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.APIKey = testKey
	if authTimeout > 0 {
		cfg.AuthTimeout = authTimeout
	}
	h, err := NewHandler(cfg, runner, people, inlineScheduler{})
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn { //nolint:staticcheck
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, srv.URL, nil) //nolint:staticcheck
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") }) //nolint:staticcheck
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) { //nolint:staticcheck
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, v))
}

func recv(t *testing.T, conn *websocket.Conn) event { //nolint:staticcheck
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var ev event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	return ev
}

func authenticated(t *testing.T, srv *httptest.Server) *websocket.Conn { //nolint:staticcheck
	t.Helper()
	conn := dial(t, srv)
	send(t, conn, map[string]string{"type": "auth", "api_key": testKey, "device_id": "android-1"})
	ev := recv(t, conn)
	require.Equal(t, "auth_ok", ev.kind())
	require.NotEmpty(t, ev["session_id"])
	return conn
}

// expectClose reads until the server closes and returns the close status.
func expectClose(t *testing.T, conn *websocket.Conn) websocket.StatusCode { //nolint:staticcheck
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			return websocket.CloseStatus(err) //nolint:staticcheck
		}
	}
}

func turnKinds(t *testing.T, conn *websocket.Conn, n int) []string { //nolint:staticcheck
	t.Helper()
	out := make([]string, n)
	for i := range out {
		out[i] = recv(t, conn).kind()
	}
	return out
}

var replyKinds = []string{"emotion", "text_chunk", "response_meta", "stream_end"}

func TestAuth_Success(t *testing.T) {
	srv := newTestServer(t, &echoRunner{}, nil, 0)
	authenticated(t, srv)
}

func TestAuth_WrongKeyClosesWithPolicyViolation(t *testing.T) {
	for _, key := range []string{"", "k", "KK", "wrong"} {
		srv := newTestServer(t, &echoRunner{}, nil, 0)
		conn := dial(t, srv)
		send(t, conn, map[string]string{"type": "auth", "api_key": key})

		ev := recv(t, conn)
		assert.Equal(t, "error", ev.kind())
		assert.Equal(t, protocol.CodeInvalidAPIKey, ev["error_code"])
		assert.Equal(t, false, ev["recoverable"])
		assert.Equal(t, websocket.StatusPolicyViolation, expectClose(t, conn)) //nolint:staticcheck
	}
}

func TestAuth_WrongFirstMessage(t *testing.T) {
	srv := newTestServer(t, &echoRunner{}, nil, 0)
	conn := dial(t, srv)
	send(t, conn, map[string]string{"type": "text", "content": "hi"})

	ev := recv(t, conn)
	assert.Equal(t, protocol.CodeInvalidMessage, ev["error_code"])
	assert.Equal(t, websocket.StatusPolicyViolation, expectClose(t, conn)) //nolint:staticcheck
}

func TestAuth_Timeout(t *testing.T) {
	srv := newTestServer(t, &echoRunner{}, nil, 50*time.Millisecond)
	conn := dial(t, srv)

	ev := recv(t, conn)
	assert.Equal(t, protocol.CodeAuthTimeout, ev["error_code"])
	assert.Equal(t, websocket.StatusPolicyViolation, expectClose(t, conn)) //nolint:staticcheck
}

func TestTextTurn_EventOrder(t *testing.T) {
	runner := &echoRunner{}
	srv := newTestServer(t, runner, nil, 0)
	conn := authenticated(t, srv)

	send(t, conn, map[string]string{"type": "text", "request_id": "r1", "content": "Hi"})
	emotion := recv(t, conn)
	assert.Equal(t, "emotion", emotion.kind())
	assert.Equal(t, "happy", emotion["emotion"])
	assert.Equal(t, "r1", emotion["request_id"])
	assert.Equal(t, []string{"text_chunk", "response_meta", "stream_end"}, turnKinds(t, conn, 3))

	calls := runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, protocol.KindText, calls[0].Kind)
	assert.Equal(t, "Hi", calls[0].Text)
}

func TestTurns_DoNotInterleave(t *testing.T) {
	srv := newTestServer(t, &echoRunner{}, nil, 0)
	conn := authenticated(t, srv)

	send(t, conn, map[string]string{"type": "text", "request_id": "a", "content": "one"})
	send(t, conn, map[string]string{"type": "text", "request_id": "b", "content": "two"})

	for _, want := range []string{"a", "b"} {
		for _, kind := range replyKinds {
			ev := recv(t, conn)
			assert.Equal(t, kind, ev.kind())
			assert.Equal(t, want, ev["request_id"])
		}
	}
}

func TestAudioEnd_EmptyBuffer(t *testing.T) {
	runner := &echoRunner{}
	srv := newTestServer(t, runner, nil, 0)
	conn := authenticated(t, srv)

	send(t, conn, map[string]string{"type": "audio_end", "request_id": "r2"})
	ev := recv(t, conn)
	assert.Equal(t, "error", ev.kind())
	assert.Equal(t, protocol.CodeEmptyAudio, ev["error_code"])
	assert.Equal(t, "r2", ev["request_id"])
	assert.Equal(t, true, ev["recoverable"])

	// The next event belongs to the following turn: nothing else was sent.
	send(t, conn, map[string]string{"type": "text", "request_id": "r3", "content": "still there?"})
	next := recv(t, conn)
	assert.Equal(t, "emotion", next.kind())
	assert.Equal(t, "r3", next["request_id"])
	assert.Len(t, runner.calls(), 1)
}

func TestAudioEnd_FlushesBufferedFrames(t *testing.T) {
	runner := &echoRunner{}
	srv := newTestServer(t, runner, nil, 0)
	conn := authenticated(t, srv)

	ctx := context.Background()
	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, []byte{1, 2})) //nolint:staticcheck
	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, []byte{3}))    //nolint:staticcheck
	send(t, conn, map[string]string{"type": "audio_end", "request_id": "r4"})
	assert.Equal(t, replyKinds, turnKinds(t, conn, 4))

	// The buffer was cleared by the flush.
	send(t, conn, map[string]string{"type": "audio_end", "request_id": "r5"})
	assert.Equal(t, protocol.CodeEmptyAudio, recv(t, conn)["error_code"])

	calls := runner.calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Media, 1)
	assert.Equal(t, []byte{1, 2, 3}, calls[0].Media[0].Data)
	assert.Equal(t, protocol.DefaultAudioMime, calls[0].Media[0].MimeType)
}

func TestAudioEnd_BadFaceKeepsBufferedAudio(t *testing.T) {
	runner := &echoRunner{}
	srv := newTestServer(t, runner, nil, 0)
	conn := authenticated(t, srv)

	require.NoError(t, conn.Write(context.Background(), websocket.MessageBinary, []byte{1, 2, 3})) //nolint:staticcheck
	send(t, conn, map[string]string{"type": "audio_end", "request_id": "a1", "face_embedding": "AAAA"})
	ev := recv(t, conn)
	assert.Equal(t, protocol.CodeInvalidMessage, ev["error_code"])
	assert.Equal(t, true, ev["recoverable"])
	assert.Empty(t, runner.calls())

	send(t, conn, map[string]string{"type": "audio_end", "request_id": "a2"})
	assert.Equal(t, replyKinds, turnKinds(t, conn, 4))

	calls := runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "a2", calls[0].RequestID)
	assert.Equal(t, []byte{1, 2, 3}, calls[0].Media[0].Data)
}

func TestAudio_BufferCapResetsAndRecovers(t *testing.T) {
	runner := &echoRunner{}
	cfg := DefaultConfig()
	cfg.APIKey = testKey
	cfg.MaxAudioBytes = 4
	h, err := NewHandler(cfg, runner, nil, inlineScheduler{})
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	conn := authenticated(t, srv)

	ctx := context.Background()
	send(t, conn, map[string]string{"type": "interaction_start", "request_id": "big"})
	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3})) //nolint:staticcheck
	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, []byte{4, 5}))    //nolint:staticcheck
	ev := recv(t, conn)
	assert.Equal(t, protocol.CodeInvalidMessage, ev["error_code"])
	assert.Equal(t, "big", ev["request_id"])
	assert.Equal(t, true, ev["recoverable"])

	// The overflow dropped the buffer; the session keeps working.
	send(t, conn, map[string]string{"type": "audio_end"})
	assert.Equal(t, protocol.CodeEmptyAudio, recv(t, conn)["error_code"])

	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, []byte{6, 7, 8, 9})) //nolint:staticcheck
	send(t, conn, map[string]string{"type": "audio_end", "request_id": "small"})
	assert.Equal(t, replyKinds, turnKinds(t, conn, 4))

	calls := runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []byte{6, 7, 8, 9}, calls[0].Media[0].Data)
}

func TestInteractionStart_ClearsAudioAndSetsPerson(t *testing.T) {
	runner := &echoRunner{}
	srv := newTestServer(t, runner, nil, 0)
	conn := authenticated(t, srv)

	require.NoError(t, conn.Write(context.Background(), websocket.MessageBinary, []byte{9})) //nolint:staticcheck
	send(t, conn, map[string]string{"type": "interaction_start", "request_id": "r6", "person_id": "persona_ana_01"})
	send(t, conn, map[string]string{"type": "audio_end"})

	ev := recv(t, conn)
	assert.Equal(t, protocol.CodeEmptyAudio, ev["error_code"])
	assert.Equal(t, "r6", ev["request_id"], "request id comes from interaction_start")

	send(t, conn, map[string]string{"type": "text", "content": "hola"})
	emotion := recv(t, conn)
	assert.Equal(t, "persona_ana_01", emotion["person_identified"])
	turnKinds(t, conn, 3)
}

func TestInvalidMessages_AreRecoverable(t *testing.T) {
	srv := newTestServer(t, &echoRunner{}, nil, 0)
	conn := authenticated(t, srv)

	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte("{nope"))) //nolint:staticcheck
	ev := recv(t, conn)
	assert.Equal(t, protocol.CodeInvalidMessage, ev["error_code"])
	assert.Equal(t, true, ev["recoverable"])

	send(t, conn, map[string]string{"type": "dance"})
	assert.Equal(t, protocol.CodeInvalidMessage, recv(t, conn)["error_code"])

	send(t, conn, map[string]string{"type": "image", "request_id": "r7", "data": "***"})
	assert.Equal(t, protocol.CodeInvalidMessage, recv(t, conn)["error_code"])

	send(t, conn, map[string]string{"type": "text", "request_id": "r8", "content": "ok"})
	assert.Equal(t, replyKinds, turnKinds(t, conn, 4))
}

func TestFaceScanMode(t *testing.T) {
	runner := &echoRunner{}
	srv := newTestServer(t, runner, nil, 0)
	conn := authenticated(t, srv)

	send(t, conn, map[string]string{"type": "face_scan_mode", "request_id": "r9"})
	ev := recv(t, conn)
	assert.Equal(t, "face_scan_actions", ev.kind())
	actions, ok := ev["actions"].([]interface{})
	require.True(t, ok)
	require.Len(t, actions, 1)
	assert.Equal(t, "move_sequence", actions[0].(map[string]interface{})["type"])
	assert.Empty(t, runner.calls())
}

func TestPersonDetected(t *testing.T) {
	runner := &echoRunner{}
	people := &touchRecorder{}
	srv := newTestServer(t, runner, people, 0)
	conn := authenticated(t, srv)

	send(t, conn, map[string]interface{}{"type": "person_detected", "request_id": "r10", "known": true, "person_id": "persona_luis_01", "confidence": 0.91})
	send(t, conn, map[string]string{"type": "text", "request_id": "r11", "content": "hi"})
	emotion := recv(t, conn)
	assert.Equal(t, "r11", emotion["request_id"], "a known person produces no reply")
	assert.Equal(t, "persona_luis_01", emotion["person_identified"])
	turnKinds(t, conn, 3)

	send(t, conn, map[string]interface{}{"type": "person_detected", "request_id": "r12", "known": false, "confidence": 0.2})
	assert.Equal(t, replyKinds, turnKinds(t, conn, 4))

	calls := runner.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, protocol.KindPersonDetected, calls[1].Kind)
	assert.Equal(t, strangerPrompt, calls[1].Text)
	assert.Empty(t, calls[1].PersonID)

	people.mu.Lock()
	defer people.mu.Unlock()
	assert.Equal(t, []string{"persona_luis_01"}, people.touched)
}

func TestPendingFaceEmbedding_UsedByNextTurnOnly(t *testing.T) {
	runner := &echoRunner{}
	srv := newTestServer(t, runner, nil, 0)
	conn := authenticated(t, srv)

	raw := types.EncodeFaceEmbedding(make([]float32, types.FaceEmbeddingDim))
	send(t, conn, map[string]string{
		"type": "interaction_start", "request_id": "r13",
		"face_embedding": base64.StdEncoding.EncodeToString(raw),
	})
	send(t, conn, map[string]string{"type": "text", "request_id": "r13", "content": "me llamo Ana"})
	turnKinds(t, conn, 4)
	send(t, conn, map[string]string{"type": "text", "request_id": "r14", "content": "¿qué tal?"})
	turnKinds(t, conn, 4)

	calls := runner.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, raw, calls[0].FaceEmbedding)
	assert.Nil(t, calls[1].FaceEmbedding)

	send(t, conn, map[string]string{"type": "text", "request_id": "r15", "content": "x", "face_embedding": "AAAA"})
	assert.Equal(t, protocol.CodeInvalidMessage, recv(t, conn)["error_code"], "embedding of the wrong size")
}

func TestMultimodal(t *testing.T) {
	runner := &echoRunner{}
	srv := newTestServer(t, runner, nil, 0)
	conn := authenticated(t, srv)

	send(t, conn, map[string]string{
		"type": "multimodal", "request_id": "r16", "text": "what is this?",
		"image": base64.StdEncoding.EncodeToString([]byte("jpeg")), "image_mime": "image/png",
		"audio": base64.StdEncoding.EncodeToString([]byte("wav")),
	})
	assert.Equal(t, replyKinds, turnKinds(t, conn, 4))

	send(t, conn, map[string]string{"type": "multimodal", "request_id": "r17"})
	assert.Equal(t, protocol.CodeInvalidMessage, recv(t, conn)["error_code"])

	calls := runner.calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Media, 2)
	assert.Equal(t, protocol.DefaultAudioMime, calls[0].Media[0].MimeType)
	assert.Equal(t, "image/png", calls[0].Media[1].MimeType)
	assert.Equal(t, "what is this?", calls[0].Text)
}

func TestAgentError_KeepsSessionOpen(t *testing.T) {
	runner := &echoRunner{failWith: "quota"}
	srv := newTestServer(t, runner, nil, 0)
	conn := authenticated(t, srv)

	send(t, conn, map[string]string{"type": "text", "request_id": "r18", "content": "hi"})
	ev := recv(t, conn)
	assert.Equal(t, protocol.CodeAgentError, ev["error_code"])

	runner.mu.Lock()
	runner.failWith = ""
	runner.mu.Unlock()
	send(t, conn, map[string]string{"type": "text", "request_id": "r19", "content": "again"})
	assert.Equal(t, replyKinds, turnKinds(t, conn, 4))
}

func TestPanic_SendsInternalErrorAndCloses(t *testing.T) {
	runner := &echoRunner{panicOn: "explode"}
	srv := newTestServer(t, runner, nil, 0)
	conn := authenticated(t, srv)

	send(t, conn, map[string]string{"type": "text", "request_id": "r20", "content": "explode"})
	ev := recv(t, conn)
	assert.Equal(t, protocol.CodeInternalError, ev["error_code"])
	assert.Equal(t, false, ev["recoverable"])
	assert.Equal(t, websocket.StatusInternalError, expectClose(t, conn)) //nolint:staticcheck
}

func TestNewHandler_AudioCapDefaultsToMessageLimit(t *testing.T) {
	h, err := NewHandler(Config{APIKey: testKey, MaxMessageBytes: 1024}, &echoRunner{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), h.config.MaxAudioBytes)
}

func TestNewHandler_RequiresKeyAndRunner(t *testing.T) {
	_, err := NewHandler(Config{}, &echoRunner{}, nil, nil)
	assert.Error(t, err)
	_, err = NewHandler(Config{APIKey: "k"}, nil, nil, nil)
	assert.Error(t, err)
}

func TestValidKey(t *testing.T) {
	assert.True(t, validKey("secret", "secret"))
	assert.False(t, validKey("secret", "Secret"))
	assert.False(t, validKey("", ""))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "AWAITING_AUTH", StateAwaitingAuth.String())
	assert.Equal(t, "CLOSED", StateClosed.String())
}
