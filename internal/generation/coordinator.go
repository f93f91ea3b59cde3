package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lucasdeangeli4scale/disparaai/internal/messaging"
	"github.com/lucasdeangeli4scale/disparaai/internal/observability/metrics"
	"github.com/lucasdeangeli4scale/disparaai/internal/session"
	"github.com/lucasdeangeli4scale/disparaai/pkg/logging"
)

var (
	// ErrContextRequired means neither an image nor a text context is available.
	ErrContextRequired = errors.New("generation: image or text context is required")
	// ErrStaleStep means the session left generating_copy before results were written.
	ErrStaleStep = errors.New("generation: session is no longer generating copy")
)

const imageAnalysisFallback = "Erro ao analisar a imagem. Gerando copy sem contexto visual."

// Request is built when a generation starts and lives only for that attempt.
type Request struct {
	RequestID   string
	UserID      string
	ContextType session.ContextType
	Image       *session.File
	TextContext string
	ValidCount  int
	Countries   map[string]int
}

// HasContext reports whether the request carries an image or text context.
func (r Request) HasContext() bool {
	return (r.Image != nil && len(r.Image.Data) > 0) || r.TextContext != ""
}

// NewRequest snapshots the generation inputs from sess.
func NewRequest(sess *session.Session) Request {
	c := sess.Campaign
	ctxType := c.ContextType
	if ctxType == "" {
		ctxType = session.ContextExisting
	}
	countries := make(map[string]int, len(c.Stats.Countries))
	for k, v := range c.Stats.Countries {
		countries[k] = v
	}
	return Request{
		RequestID:   uuid.NewString(),
		UserID:      sess.UserID,
		ContextType: ctxType,
		Image:       c.Image,
		TextContext: c.TextContext,
		ValidCount:  c.Stats.Valid,
		Countries:   countries,
	}
}

// Coordinator runs copy generation in the background with at most one
// in-flight run per user.
type Coordinator struct {
	registry  *session.Registry
	gateway   messaging.Gateway
	generator Generator
	logger    *logging.Logger
	metrics   *metrics.GenerationMetrics
	timeout   time.Duration

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

func WithLogger(logger *logging.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.GenerationMetrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithTimeout bounds a whole generation run. Zero disables the bound.
func WithTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

func NewCoordinator(registry *session.Registry, gateway messaging.Gateway, generator Generator, opts ...CoordinatorOption) *Coordinator {
	if registry == nil || gateway == nil || generator == nil {
		panic("generation: registry, gateway and generator are required")
	}
	c := &Coordinator{
		registry:  registry,
		gateway:   gateway,
		generator: generator,
		logger:    logging.Default(),
		timeout:   2 * time.Minute,
		active:    make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trigger starts a generation for the session's user unless one is already
// running. The caller must hold the user's session lock; the run blocks on
// that lock before reading the session again.
func (c *Coordinator) Trigger(ctx context.Context, sess *session.Session) bool {
	req := NewRequest(sess)

	c.mu.Lock()
	if _, busy := c.active[req.UserID]; busy {
		c.mu.Unlock()
		c.metrics.ObserveDuplicate()
		c.logger.Info("generation already in progress", "user_id", req.UserID)
		return false
	}
	base := context.WithoutCancel(ctx)
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if c.timeout > 0 {
		runCtx, cancel = context.WithTimeout(base, c.timeout)
	} else {
		runCtx, cancel = context.WithCancel(base)
	}
	c.active[req.UserID] = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("generation started",
		"user_id", req.UserID,
		"request_id", req.RequestID,
		"context_type", string(req.ContextType),
	)
	go c.run(runCtx, req)
	return true
}

// Active reports whether a generation is running for userID.
func (c *Coordinator) Active(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[userID]
	return ok
}

// Wait blocks until every started generation has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Shutdown cancels running generations and waits for them to exit.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	for _, cancel := range c.active {
		cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) release(userID string) {
	c.mu.Lock()
	if cancel, ok := c.active[userID]; ok {
		cancel()
		delete(c.active, userID)
	}
	c.mu.Unlock()
}

func (c *Coordinator) run(ctx context.Context, req Request) {
	start := time.Now()
	defer c.wg.Done()
	defer c.release(req.UserID)
	defer func() {
		if r := recover(); r != nil {
			c.fail(ctx, req, fmt.Errorf("generation: panic: %v", r))
			c.metrics.ObserveRun(string(req.ContextType), "panic", time.Since(start))
		}
	}()

	logger := c.logger.With("user_id", req.UserID, "request_id", req.RequestID)
	if err := c.gateway.SendText(ctx, req.UserID, AckMessage(req)); err != nil {
		logger.Warn("generation acknowledgment not delivered", "error", err)
	}

	err := c.pipeline(ctx, req, logger)
	outcome := "success"
	switch {
	case err == nil:
		logger.Info("generation delivered", "elapsed_ms", time.Since(start).Milliseconds())
	case errors.Is(err, ErrStaleStep):
		outcome = "stale"
		logger.Info("generation discarded, session moved on")
	default:
		outcome = "failed"
		c.fail(ctx, req, err)
	}
	c.metrics.ObserveRun(string(req.ContextType), outcome, time.Since(start))
}

func (c *Coordinator) pipeline(ctx context.Context, req Request, logger *logging.Logger) error {
	if err := c.registry.WithLock(req.UserID, func(s *session.Session) error {
		if s.Step != session.StepGeneratingCopy {
			return ErrStaleStep
		}
		return nil
	}); err != nil {
		return err
	}
	if !req.HasContext() {
		return ErrContextRequired
	}

	var analysis string
	if req.Image != nil && len(req.Image.Data) > 0 {
		a, err := c.generator.AnalyzeImage(ctx, req.Image.Data, req.Image.Format)
		if err != nil {
			logger.Warn("image analysis failed, continuing without it", "error", err)
			a = imageAnalysisFallback
		}
		analysis = a
	}

	options, err := c.generator.GenerateCopyOptions(ctx, CopyInput{
		Campaign:      CampaignContext(req.ValidCount, req.Countries),
		ImageAnalysis: analysis,
		TextContext:   req.TextContext,
	})
	if err != nil {
		return err
	}

	var text string
	if err := c.registry.WithLock(req.UserID, func(s *session.Session) error {
		if s.Step != session.StepGeneratingCopy {
			return ErrStaleStep
		}
		s.Campaign.CopyOptions = options
		s.Step = session.StepCopySelection
		text = FormatOptions(options, s.Campaign.Stats.Valid, req.ContextType)
		return nil
	}); err != nil {
		return err
	}

	if err := c.gateway.SendText(ctx, req.UserID, text); err != nil {
		// Options are stored; the copy_selection menu shows them again on the next turn.
		logger.Error("generated options not delivered", "error", err)
	}
	return nil
}

// fail tells the user to retry and rolls the step back if it still points at generation.
func (c *Coordinator) fail(ctx context.Context, req Request, cause error) {
	logger := c.logger.With("user_id", req.UserID, "request_id", req.RequestID)
	logger.Error("generation failed", "error", cause)

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := c.gateway.SendText(notifyCtx, req.UserID, RetryMessage); err != nil {
		logger.Warn("retry message not delivered", "error", err)
	}
	_ = c.registry.WithLock(req.UserID, func(s *session.Session) error {
		if s.Step == session.StepGeneratingCopy {
			s.Step = session.StepCSVProcessed
		}
		return nil
	})
}
