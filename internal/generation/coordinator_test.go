package generation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lucasdeangeli4scale/disparaai/internal/contacts"
	"github.com/lucasdeangeli4scale/disparaai/internal/messaging"
	"github.com/lucasdeangeli4scale/disparaai/internal/observability/metrics"
	"github.com/lucasdeangeli4scale/disparaai/internal/session"
	"github.com/lucasdeangeli4scale/disparaai/pkg/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testUser = "5511999990000"

type recordingGateway struct {
	mu   sync.Mutex
	sent []string
}

func (g *recordingGateway) SendText(_ context.Context, _ string, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, text)
	return nil
}

func (g *recordingGateway) SendMedia(context.Context, string, messaging.Media, string) error {
	return nil
}

func (g *recordingGateway) messages() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.sent))
	copy(out, g.sent)
	return out
}

type fakeGenerator struct {
	gw         *recordingGateway
	started    chan struct{}
	release    chan struct{}
	options    []session.CopyOption
	err        error
	analyzeErr error

	calls        atomic.Int32
	analyzeCalls atomic.Int32
	sentBefore   atomic.Int32
	lastInput    atomic.Value
}

func (f *fakeGenerator) GenerateCopyOptions(ctx context.Context, in CopyInput) ([]session.CopyOption, error) {
	f.calls.Add(1)
	f.lastInput.Store(in)
	if f.gw != nil {
		f.sentBefore.Store(int32(len(f.gw.messages())))
	}
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.options, f.err
}

func (f *fakeGenerator) AnalyzeImage(context.Context, []byte, string) (string, error) {
	f.analyzeCalls.Add(1)
	if f.analyzeErr != nil {
		return "", f.analyzeErr
	}
	return "uma foto de produto", nil
}

var twoOptions = []session.CopyOption{
	{Style: "Profissional", Message: "Prezado {{name}}"},
	{Style: "Amigável", Message: "Oi {{name}}"},
}

func newTestCoordinator(t *testing.T, gen Generator) (*Coordinator, *session.Registry, *recordingGateway) {
	t.Helper()
	reg := session.NewRegistry(session.WithLogger(logging.Discard()))
	gw := &recordingGateway{}
	if fg, ok := gen.(*fakeGenerator); ok {
		fg.gw = gw
	}
	c := NewCoordinator(reg, gw, gen, WithLogger(logging.Discard()), WithTimeout(5*time.Second))
	return c, reg, gw
}

// startGeneration moves the user into generating_copy and triggers under the session lock.
func startGeneration(t *testing.T, c *Coordinator, reg *session.Registry, prepare func(*session.Session)) bool {
	t.Helper()
	var started bool
	require.NoError(t, reg.WithLock(testUser, func(s *session.Session) error {
		s.Campaign.Stats = contacts.Stats{Total: 3, Valid: 2, Invalid: 1, Countries: map[string]int{"BR": 2}}
		s.Campaign.TextContext = "Pizzaria com rodízio às terças"
		s.Campaign.ContextType = session.ContextText
		if prepare != nil {
			prepare(s)
		}
		s.Step = session.StepGeneratingCopy
		started = c.Trigger(context.Background(), s)
		return nil
	}))
	return started
}

func TestCoordinatorDeliversOptions(t *testing.T) {
	gen := &fakeGenerator{options: twoOptions}
	c, reg, gw := newTestCoordinator(t, gen)

	require.True(t, startGeneration(t, c, reg, nil))
	c.Wait()

	var stored []session.CopyOption
	require.NoError(t, reg.WithLock(testUser, func(s *session.Session) error {
		assert.Equal(t, session.StepCopySelection, s.Step)
		stored = s.Campaign.CopyOptions
		return nil
	}))
	assert.Equal(t, twoOptions, stored)
	assert.False(t, c.Active(testUser))

	msgs := gw.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "Descrição recebida")
	assert.Contains(t, msgs[1], "2 opções para 2 contatos")
	assert.EqualValues(t, 1, gen.sentBefore.Load(), "ack must precede generation")

	in := gen.lastInput.Load().(CopyInput)
	assert.Equal(t, "Pizzaria com rodízio às terças", in.TextContext)
	assert.Empty(t, in.ImageAnalysis)
	assert.Zero(t, gen.analyzeCalls.Load())
}

func TestCoordinatorSuppressesDuplicateTrigger(t *testing.T) {
	gen := &fakeGenerator{options: twoOptions, started: make(chan struct{}), release: make(chan struct{})}
	reg := session.NewRegistry(session.WithLogger(logging.Discard()))
	gw := &recordingGateway{}
	gen.gw = gw
	promReg := prometheus.NewRegistry()
	m := metrics.NewGenerationMetrics(promReg)
	c := NewCoordinator(reg, gw, gen, WithLogger(logging.Discard()), WithMetrics(m))

	require.True(t, startGeneration(t, c, reg, nil))
	<-gen.started
	assert.True(t, c.Active(testUser))

	var second bool
	require.NoError(t, reg.WithLock(testUser, func(s *session.Session) error {
		second = c.Trigger(context.Background(), s)
		return nil
	}))
	assert.False(t, second)

	close(gen.release)
	c.Wait()

	assert.EqualValues(t, 1, gen.calls.Load())
	assert.Len(t, gw.messages(), 2)
	assert.Equal(t, 1.0, counterValue(t, promReg, "disparaai_generation_duplicate_triggers_total"))
}

func counterValue(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestCoordinatorFailureRollsBack(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("model unavailable")}
	c, reg, gw := newTestCoordinator(t, gen)

	require.True(t, startGeneration(t, c, reg, nil))
	c.Wait()

	assert.Equal(t, session.StepCSVProcessed, reg.Load(testUser).Step)
	msgs := gw.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RetryMessage, msgs[1])
}

func TestCoordinatorRequiresContext(t *testing.T) {
	gen := &fakeGenerator{options: twoOptions}
	c, reg, gw := newTestCoordinator(t, gen)

	require.True(t, startGeneration(t, c, reg, func(s *session.Session) {
		s.Campaign.TextContext = ""
		s.Campaign.ContextType = session.ContextExisting
	}))
	c.Wait()

	assert.Zero(t, gen.calls.Load())
	assert.Equal(t, session.StepCSVProcessed, reg.Load(testUser).Step)
	msgs := gw.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "Contexto encontrado")
	assert.Equal(t, RetryMessage, msgs[1])
}

func TestCoordinatorImageAnalysisFailureContinues(t *testing.T) {
	gen := &fakeGenerator{options: twoOptions, analyzeErr: errors.New("vision down")}
	c, reg, _ := newTestCoordinator(t, gen)

	require.True(t, startGeneration(t, c, reg, func(s *session.Session) {
		s.Campaign.TextContext = ""
		s.Campaign.ContextType = session.ContextImage
		s.Campaign.Image = &session.File{Filename: "promo.jpg", MimeType: "image/jpeg", Data: []byte{0xff, 0xd8}, Format: "jpeg"}
	}))
	c.Wait()

	assert.EqualValues(t, 1, gen.analyzeCalls.Load())
	in := gen.lastInput.Load().(CopyInput)
	assert.Equal(t, imageAnalysisFallback, in.ImageAnalysis)
	assert.Equal(t, session.StepCopySelection, reg.Load(testUser).Step)
}

func TestCoordinatorDiscardsResultsWhenSessionMovedOn(t *testing.T) {
	gen := &fakeGenerator{options: twoOptions, started: make(chan struct{}), release: make(chan struct{})}
	c, reg, gw := newTestCoordinator(t, gen)

	require.True(t, startGeneration(t, c, reg, nil))
	<-gen.started
	reg.Reset(testUser)
	close(gen.release)
	c.Wait()

	view := reg.Load(testUser)
	assert.Equal(t, session.StepWelcome, view.Step)
	assert.Zero(t, view.CopyOptions)
	assert.Len(t, gw.messages(), 1)
}

func TestCoordinatorAbortsWhenStepAlreadyLeft(t *testing.T) {
	gen := &fakeGenerator{options: twoOptions}
	c, reg, _ := newTestCoordinator(t, gen)

	require.NoError(t, reg.WithLock(testUser, func(s *session.Session) error {
		s.Campaign.TextContext = "x"
		s.Step = session.StepCSVProcessed
		c.Trigger(context.Background(), s)
		return nil
	}))
	c.Wait()

	assert.Zero(t, gen.calls.Load())
	assert.Equal(t, session.StepCSVProcessed, reg.Load(testUser).Step)
}

func TestCoordinatorShutdownCancelsRuns(t *testing.T) {
	gen := &fakeGenerator{options: twoOptions, started: make(chan struct{}), release: make(chan struct{})}
	c, reg, _ := newTestCoordinator(t, gen)

	require.True(t, startGeneration(t, c, reg, nil))
	<-gen.started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	assert.False(t, c.Active(testUser))
	assert.Equal(t, session.StepCSVProcessed, reg.Load(testUser).Step)
}
