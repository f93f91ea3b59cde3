// Package workflow drives a user's conversation through the campaign steps:
// contact upload, copy generation or authoring, approval and dispatch.
package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/lucasdeangeli4scale/disparaai/internal/contacts"
	"github.com/lucasdeangeli4scale/disparaai/internal/messaging"
	"github.com/lucasdeangeli4scale/disparaai/internal/observability/metrics"
	"github.com/lucasdeangeli4scale/disparaai/internal/session"
	"github.com/lucasdeangeli4scale/disparaai/internal/uploads"
	"github.com/lucasdeangeli4scale/disparaai/pkg/logging"
)

// EventKind is the type of an inbound message.
type EventKind string

const (
	EventText     EventKind = "text"
	EventImage    EventKind = "image"
	EventDocument EventKind = "document"
)

// Attachment is the media payload of an inbound message.
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// Event is one inbound message from a user.
type Event struct {
	UserID string
	Kind   EventKind
	// Text is the message body or the media caption.
	Text  string
	Media *Attachment
}

// historyText is what the session history keeps for ev. Binary payloads are
// never stored.
func (ev Event) historyText() string {
	switch ev.Kind {
	case EventImage:
		return "[image]"
	case EventDocument:
		if ev.Media != nil && ev.Media.Filename != "" {
			return "[document: " + ev.Media.Filename + "]"
		}
		return "[document]"
	}
	return ev.Text
}

// Generator runs copy generation in the background.
type Generator interface {
	// Trigger starts a run for sess unless one is in flight. The caller holds
	// the session lock.
	Trigger(ctx context.Context, sess *session.Session) bool
	Active(userID string) bool
}

// Launcher starts campaign dispatch.
type Launcher interface {
	// Start persists and dispatches the selected copy. The caller holds the
	// session lock.
	Start(ctx context.Context, sess *session.Session) (string, error)
}

// Reply is the outcome of a handled turn.
type Reply struct {
	Text string
	Step session.Step
	// Silent is set when a background actor sends the next message itself.
	Silent bool
}

// result is what a step handler decides.
type result struct {
	next   session.Step
	reply  string
	silent bool
}

type stepHandler func(ctx context.Context, s *session.Session, ev Event) (result, error)

// Deps are the collaborators every Engine needs.
type Deps struct {
	Registry   *session.Registry
	Gateway    messaging.Gateway
	Normalizer *contacts.Normalizer
	Generator  Generator
	Launcher   Launcher
}

// Engine routes inbound events to the handler for the user's current step.
type Engine struct {
	registry    *session.Registry
	gateway     messaging.Gateway
	normalizer  *contacts.Normalizer
	generator   Generator
	launcher    Launcher
	policy      uploads.Policy
	snapshotter session.Snapshotter
	logger      *logging.Logger
	metrics     *metrics.WorkflowMetrics

	handlers map[session.Step]stepHandler
}

// Option customizes an Engine.
type Option func(*Engine)

func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSnapshotter publishes a session view after every turn.
func WithSnapshotter(s session.Snapshotter) Option {
	return func(e *Engine) { e.snapshotter = s }
}

func WithUploadPolicy(p uploads.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithMetrics(m *metrics.WorkflowMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine wires the step table. It panics when a dependency is missing or
// a step has no handler.
func NewEngine(deps Deps, opts ...Option) *Engine {
	if deps.Registry == nil || deps.Gateway == nil || deps.Normalizer == nil || deps.Generator == nil || deps.Launcher == nil {
		panic("workflow: registry, gateway, normalizer, generator and launcher are required")
	}
	e := &Engine{
		registry:   deps.Registry,
		gateway:    deps.Gateway,
		normalizer: deps.Normalizer,
		generator:  deps.Generator,
		launcher:   deps.Launcher,
		policy:     uploads.NewPolicy(0),
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.handlers = map[session.Step]stepHandler{
		session.StepWelcome:           e.handleWelcome,
		session.StepAwaitingCSV:       e.handleAwaitingCSV,
		session.StepCSVProcessed:      e.handleCSVProcessed,
		session.StepGeneratingCopy:    e.handleGeneratingCopy,
		session.StepCopySelection:     e.handleCopySelection,
		session.StepAwaitingApproval:  e.handleAwaitingApproval,
		session.StepExecutingCampaign: e.handleExecutingCampaign,
		session.StepCustomMessage:     e.handleCustomMessage,
		session.StepDirectSend:        e.handleDirectSend,
	}
	for _, step := range session.AllSteps() {
		if _, ok := e.handlers[step]; !ok {
			panic(fmt.Sprintf("workflow: no handler for step %q", step))
		}
	}
	return e
}

// Handle processes one event under the user's session lock and sends the
// reply. A handler error leaves the step unchanged and the user gets a
// generic apology. The returned error only reports reply delivery.
func (e *Engine) Handle(ctx context.Context, ev Event) (Reply, error) {
	ev.UserID = strings.TrimSpace(ev.UserID)
	if ev.UserID == "" {
		return Reply{}, &Error{Kind: KindValidation, Op: "handle", Err: fmt.Errorf("user id is required")}
	}
	logger := e.logger.ForUser(ev.UserID)

	var (
		reply Reply
		view  session.View
	)
	_ = e.registry.WithLock(ev.UserID, func(s *session.Session) error {
		s.Record(ev.historyText(), string(ev.Kind), e.registry.Now())
		current := s.Step

		res, err := e.dispatch(ctx, s, ev)
		if err != nil {
			kind := KindOf(err)
			logger.Error("workflow turn failed", "step", current, "kind", kind, "error", err)
			e.metrics.ObserveTurn(string(current), string(kind))
			s.Step = current
			reply = Reply{Text: msgApology, Step: current}
		} else {
			e.metrics.ObserveTurn(string(current), "ok")
			s.Step = res.next
			reply = Reply{Text: res.reply, Step: res.next, Silent: res.silent}
			if current != res.next {
				logger.Debug("workflow step changed", "from", current, "to", res.next)
			}
		}
		view = session.ViewOf(s)
		return nil
	})

	e.publish(ctx, view, logger)

	if reply.Silent || reply.Text == "" {
		return reply, nil
	}
	if err := e.gateway.SendText(ctx, ev.UserID, reply.Text); err != nil {
		logger.Error("workflow reply not delivered", "error", err)
		return reply, &Error{Kind: KindExternalService, Op: "reply", Err: err}
	}
	return reply, nil
}

// dispatch runs the step handler, converting a panic into an internal error.
// An unknown step is repaired to welcome.
func (e *Engine) dispatch(ctx context.Context, s *session.Session, ev Event) (res result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: KindInternal, Op: string(s.Step), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	h, ok := e.handlers[s.Step]
	if !ok {
		e.logger.ForUser(s.UserID).Warn("workflow session in unknown step, resetting",
			"kind", KindState, "step", s.Step)
		s.ResetWorkflow()
		h = e.handlers[session.StepWelcome]
	}
	return h(ctx, s, ev)
}

func (e *Engine) publish(ctx context.Context, view session.View, logger *logging.Logger) {
	if e.snapshotter == nil {
		return
	}
	if err := e.snapshotter.Save(context.WithoutCancel(ctx), view); err != nil {
		logger.Warn("session snapshot not saved", "error", err)
	}
}
