package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/robi/internal/memory"
	"github.com/scrypster/robi/internal/storage/sqlite"
	"github.com/scrypster/robi/pkg/types"
)

type fakeText struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	gate    chan struct{} // when set, Complete blocks until closed
	entered chan struct{}
}

func (f *fakeText) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return f.reply, f.err
}

func (f *fakeText) GetModel() string { return "fake" }

func (f *fakeText) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func newCompactorFixture(t *testing.T, gen *fakeText) (*MemoryCompactor, *memory.Service) {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := memory.NewService(store, store)
	c, err := NewMemoryCompactor(svc, gen, DefaultCompactorConfig())
	require.NoError(t, err)
	return c, svc
}

func seed(t *testing.T, svc *memory.Service, personID string, memType types.MemoryType, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		req := memory.SaveRequest{Type: memType, Content: fmt.Sprintf("%s fact %d", memType, i), Importance: 1 + i%5}
		if personID != "" {
			pid := personID
			req.PersonID = &pid
		}
		_, err := svc.Save(context.Background(), req)
		require.NoError(t, err)
	}
}

func TestCompactSubject_GroupAtThresholdUntouched(t *testing.T) {
	gen := &fakeText{reply: "fused"}
	c, svc := newCompactorFixture(t, gen)
	seed(t, svc, "", types.MemoryGeneral, 8)

	n, err := c.CompactSubject(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, gen.calls())

	all, err := svc.GetActiveForSubject(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 8)
}

func TestCompactSubject_NineBecomeThree(t *testing.T) {
	gen := &fakeText{reply: "  Ana likes tea, jazz and long walks.  "}
	c, svc := newCompactorFixture(t, gen)
	ctx := context.Background()

	seed(t, svc, "persona_ana_01", types.MemoryPersonFact, 7)
	top, err := svc.Save(ctx, memory.SaveRequest{Type: types.MemoryPersonFact, Content: "top", Importance: 10, PersonID: strPtr("persona_ana_01")})
	require.NoError(t, err)
	second, err := svc.Save(ctx, memory.SaveRequest{Type: types.MemoryPersonFact, Content: "second", Importance: 9, PersonID: strPtr("persona_ana_01")})
	require.NoError(t, err)
	// A different subject and a different type stay out of it.
	seed(t, svc, "", types.MemoryPersonFact, 3)
	seed(t, svc, "persona_ana_01", types.MemoryExperience, 2)

	n, err := c.CompactSubject(ctx, "persona_ana_01")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Equal(t, 1, gen.calls())
	assert.Contains(t, gen.prompts[0], "7 memories of type 'person_fact'")

	facts, err := svc.GetForPerson(ctx, "persona_ana_01", memory.ListOptions{Type: types.MemoryPersonFact})
	require.NoError(t, err)
	require.Len(t, facts, 3)
	assert.Equal(t, top.ID, facts[0].ID)
	assert.Equal(t, second.ID, facts[1].ID)
	assert.Equal(t, 7, facts[2].Importance)
	assert.Equal(t, "Ana likes tea, jazz and long walks.", facts[2].Content)
	require.NotNil(t, facts[2].PersonID)

	global, err := svc.GetActiveForSubject(ctx, "")
	require.NoError(t, err)
	assert.Len(t, global, 3)
}

func TestCompactSubject_ModelFailureLeavesGroup(t *testing.T) {
	gen := &fakeText{err: errors.New("model down")}
	c, svc := newCompactorFixture(t, gen)
	seed(t, svc, "", types.MemoryExperience, 10)

	n, err := c.CompactSubject(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	all, err := svc.GetActiveForSubject(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func TestCompactSubject_PrivateFusionKeepsOriginals(t *testing.T) {
	gen := &fakeText{reply: "the wifi password is on the fridge"}
	c, svc := newCompactorFixture(t, gen)
	seed(t, svc, "", types.MemoryGeneral, 9)

	n, err := c.CompactSubject(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	all, err := svc.GetActiveForSubject(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 9)
}

func TestCompactSubject_ConcurrentPassIsSkipped(t *testing.T) {
	gen := &fakeText{reply: "fused", gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	c, svc := newCompactorFixture(t, gen)
	seed(t, svc, "", types.MemoryGeneral, 9)

	first := make(chan int, 1)
	go func() {
		n, _ := c.CompactSubject(context.Background(), "")
		first <- n
	}()

	select {
	case <-gen.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first pass never reached the model")
	}

	n, err := c.CompactSubject(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second pass for the same subject is skipped")

	close(gen.gate)
	assert.Equal(t, 1, <-first)
	assert.Equal(t, 1, gen.calls())
}

func TestSharedZone(t *testing.T) {
	z1, z2 := int64(1), int64(2)
	assert.Nil(t, sharedZone(nil))
	assert.Equal(t, &z1, sharedZone([]*types.Memory{{ZoneID: &z1}, {ZoneID: &z1}}))
	assert.Nil(t, sharedZone([]*types.Memory{{ZoneID: &z1}, {ZoneID: &z2}}))
	assert.Nil(t, sharedZone([]*types.Memory{{ZoneID: &z1}, {}}))
}

func strPtr(s string) *string { return &s }
