// Package pipeline runs one conversation turn: it assembles memory context,
// asks the agent for a structured reply, emits the reply events in order,
// and schedules the turn's persistence as background tasks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/scrypster/robi/internal/agent"
	"github.com/scrypster/robi/internal/engine"
	"github.com/scrypster/robi/internal/expression"
	"github.com/scrypster/robi/internal/intent"
	"github.com/scrypster/robi/internal/llm"
	"github.com/scrypster/robi/internal/memory"
	"github.com/scrypster/robi/internal/metrics"
	"github.com/scrypster/robi/internal/protocol"
	"github.com/scrypster/robi/pkg/types"
)

// Generator produces the structured reply for a turn.
type Generator interface {
	Generate(ctx context.Context, turn agent.Turn) (*agent.Reply, error)
}

// MemoryService is the part of memory.Service the pipeline uses.
type MemoryService interface {
	GetContext(ctx context.Context, personID string, caps memory.Caps) (*memory.Context, error)
	Save(ctx context.Context, req memory.SaveRequest) (*types.Memory, error)
	RegisterFace(ctx context.Context, name string, raw []byte) (*types.Person, error)
}

// ConversationLog is the part of conversation.Log the pipeline uses.
type ConversationLog interface {
	History() []llm.Message
	AppendExchange(ctx context.Context, user, assistant string) ([]*types.ConversationTurn, error)
	CompactIfThreshold() bool
}

// Compactor merges a subject's memories.
type Compactor interface {
	CompactSubject(ctx context.Context, personID string) (int, error)
}

// Scheduler runs background work. engine.TaskPool satisfies it.
type Scheduler interface {
	Submit(task engine.Task) bool
}

// Emitter delivers events to the client in call order.
type Emitter interface {
	Emit(ctx context.Context, ev protocol.Event) error
}

// strangerMarker is logged for the user side of an unknown-person turn in
// place of the synthesized prompt.
const strangerMarker = "(unknown person appeared)"

// mediaPlaceholders stand in for media the model did not summarise.
var mediaPlaceholders = map[protocol.Kind]string{
	protocol.KindAudioEnd:   "(audio received)",
	protocol.KindImage:      "(image received)",
	protocol.KindVideo:      "(video received)",
	protocol.KindMultimodal: "(media received)",
}

// Input is everything known about one turn.
type Input struct {
	Kind      protocol.Kind
	RequestID string
	PersonID  string
	Text      string
	Media     []llm.Part

	// FaceEmbedding is a pending unknown face (raw little-endian float32s).
	// When set the agent is asked to extract the speaker's name.
	FaceEmbedding []byte

	// History and Memory are loaded from the log and the memory service
	// when nil.
	History []llm.Message
	Memory  *memory.Context
}

// Pipeline converts turns into reply events and background side effects.
// It holds no per-turn state and is safe for concurrent use.
type Pipeline struct {
	gen       Generator
	mem       MemoryService
	convo     ConversationLog
	compactor Compactor
	sched     Scheduler
	caps      memory.Caps
	now       func() time.Time
}

// New creates a pipeline.
func New(gen Generator, mem MemoryService, convo ConversationLog, compactor Compactor, sched Scheduler, caps memory.Caps) (*Pipeline, error) {
	if gen == nil || mem == nil || convo == nil || compactor == nil || sched == nil {
		return nil, fmt.Errorf("pipeline: generator, memory, conversation log, compactor and scheduler are required")
	}
	return &Pipeline{
		gen:       gen,
		mem:       mem,
		convo:     convo,
		compactor: compactor,
		sched:     sched,
		caps:      caps,
		now:       time.Now,
	}, nil
}

// Run executes one turn and emits, in order: emotion, the response text,
// an optional capture_request, response_meta and stream_end. A failed
// generation emits a single recoverable AGENT_ERROR instead. The returned
// error is non-nil only when the emitter fails.
func (p *Pipeline) Run(ctx context.Context, in Input, emit Emitter) error {
	start := p.now()

	mc := in.Memory
	if mc == nil {
		var err error
		mc, err = p.mem.GetContext(ctx, in.PersonID, p.caps)
		if err != nil {
			log.Printf("WARNING: pipeline: %s: continuing without memory context: %v", in.RequestID, err)
			mc = &memory.Context{}
		}
	}
	history := in.History
	if history == nil {
		history = p.convo.History()
	}

	reply, err := p.gen.Generate(ctx, agent.Turn{
		PersonID:    in.PersonID,
		Text:        in.Text,
		Media:       in.Media,
		History:     history,
		Memory:      mc,
		ExtractName: len(in.FaceEmbedding) > 0,
	})
	if err != nil {
		log.Printf("ERROR: pipeline: %s: generation failed: %v", in.RequestID, err)
		metrics.TurnFinished(string(in.Kind), "agent_error", p.now().Sub(start))
		return emit.Emit(ctx, protocol.NewError(protocol.CodeAgentError, "failed to generate a reply", in.RequestID, true))
	}

	if err := p.emitReply(ctx, in, reply, start, emit); err != nil {
		metrics.TurnFinished(string(in.Kind), "emit_error", p.now().Sub(start))
		return err
	}
	metrics.TurnFinished(string(in.Kind), "ok", p.now().Sub(start))

	p.schedule(in, reply)
	return nil
}

func (p *Pipeline) emitReply(ctx context.Context, in Input, reply *agent.Reply, start time.Time, emit Emitter) error {
	if err := emit.Emit(ctx, protocol.NewEmotion(in.RequestID, reply.Emotion, in.PersonID)); err != nil {
		return err
	}
	if reply.ResponseText != "" {
		if err := emit.Emit(ctx, protocol.NewTextChunk(in.RequestID, reply.ResponseText)); err != nil {
			return err
		}
	}
	if capture := intent.Classify(reply.ResponseText); capture != intent.None {
		if err := emit.Emit(ctx, protocol.NewCaptureRequest(in.RequestID, string(capture))); err != nil {
			return err
		}
	}

	var personName string
	if len(in.FaceEmbedding) > 0 {
		personName = reply.PersonName
	}
	meta := protocol.NewResponseMeta(
		in.RequestID,
		reply.ResponseText,
		expression.NewPayload(reply.Emojis, reply.Emotion),
		expression.ExpandActions(reply.Actions, reply.Emotion),
		personName,
	)
	if err := emit.Emit(ctx, meta); err != nil {
		return err
	}

	elapsed := p.now().Sub(start).Milliseconds()
	return emit.Emit(ctx, protocol.NewStreamEnd(in.RequestID, elapsed))
}

// schedule queues the turn's persistence. Nothing here blocks the reply or
// reports back to the client.
func (p *Pipeline) schedule(in Input, reply *agent.Reply) {
	for _, proposal := range reply.Memories {
		req, ok := saveRequest(proposal, in.PersonID)
		if !ok {
			continue
		}
		p.sched.Submit(engine.Task{Name: "memory_save", Run: func(ctx context.Context) error {
			_, err := p.mem.Save(ctx, req)
			if errors.Is(err, memory.ErrPrivateContent) {
				return nil
			}
			return err
		}})
	}

	if len(in.FaceEmbedding) > 0 && reply.PersonName != "" {
		name, raw := reply.PersonName, in.FaceEmbedding
		p.sched.Submit(engine.Task{Name: "person_registration", Run: func(ctx context.Context) error {
			_, err := p.mem.RegisterFace(ctx, name, raw)
			return err
		}})
	}

	userContent := userLogContent(in, reply.MediaSummary)
	assistantContent := reply.ResponseText
	p.sched.Submit(engine.Task{Name: "conversation_append", Run: func(ctx context.Context) error {
		if _, err := p.convo.AppendExchange(ctx, userContent, assistantContent); err != nil {
			return err
		}
		p.convo.CompactIfThreshold()
		return nil
	}})

	subject := in.PersonID
	p.sched.Submit(engine.Task{Name: "memory_compaction", Run: func(ctx context.Context) error {
		_, err := p.compactor.CompactSubject(ctx, subject)
		return err
	}})
}

// saveRequest maps a model proposal onto a memory write. Person facts and
// experiences belong to the active person when there is one; everything
// else is global. Unknown types are stored as general knowledge.
func saveRequest(proposal agent.MemoryProposal, personID string) (memory.SaveRequest, bool) {
	if proposal.Content == "" {
		return memory.SaveRequest{}, false
	}
	memType := types.MemoryType(proposal.Type)
	if !memType.IsValid() {
		memType = types.MemoryGeneral
	}

	req := memory.SaveRequest{
		Type:       memType,
		Content:    proposal.Content,
		Importance: proposal.Importance,
	}
	if personID != "" && (memType == types.MemoryPersonFact || memType == types.MemoryExperience) {
		pid := personID
		req.PersonID = &pid
	}
	return req, true
}

// userLogContent is what the conversation log records for the user side of
// a turn. Media turns are logged through the model's summary, or a fixed
// placeholder when it gave none.
func userLogContent(in Input, mediaSummary string) string {
	if in.Kind == protocol.KindPersonDetected {
		return strangerMarker
	}
	if len(in.Media) == 0 {
		return in.Text
	}
	content := mediaSummary
	if content == "" {
		content = mediaPlaceholders[in.Kind]
		if content == "" {
			content = mediaPlaceholders[protocol.KindMultimodal]
		}
	}
	if in.Text != "" {
		return in.Text + "\n" + content
	}
	return content
}
