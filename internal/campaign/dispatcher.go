package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lucasdeangeli4scale/disparaai/internal/contacts"
	"github.com/lucasdeangeli4scale/disparaai/internal/generation"
	"github.com/lucasdeangeli4scale/disparaai/internal/messaging"
	"github.com/lucasdeangeli4scale/disparaai/internal/observability/metrics"
	"github.com/lucasdeangeli4scale/disparaai/internal/session"
	"github.com/lucasdeangeli4scale/disparaai/pkg/logging"
)

var (
	// ErrNoMessage means dispatch was requested before a message was selected.
	ErrNoMessage = errors.New("campaign: no message selected")
	// ErrNotExecuting means the session is not in executing_campaign.
	ErrNotExecuting = errors.New("campaign: session is not executing a campaign")
)

// DefaultInterval is the minimum gap between two consecutive sends.
const DefaultInterval = time.Second

// Archiver copies campaign uploads to long-term storage.
type Archiver interface {
	Archive(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Dispatcher sends a finalized campaign to every valid recipient.
type Dispatcher struct {
	registry *session.Registry
	gateway  messaging.Gateway
	store    Store
	archiver Archiver
	logger   *logging.Logger
	metrics  *metrics.CampaignMetrics
	interval time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time

	wg sync.WaitGroup
}

type Option func(*Dispatcher)

func WithStore(store Store) Option {
	return func(d *Dispatcher) { d.store = store }
}

func WithArchiver(a Archiver) Option {
	return func(d *Dispatcher) { d.archiver = a }
}

func WithLogger(logger *logging.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithMetrics(m *metrics.CampaignMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithInterval sets the gap between sends. Negative values are treated as zero.
func WithInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval < 0 {
			interval = 0
		}
		d.interval = interval
	}
}

// WithSleeper replaces the rate-limit wait, mainly for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) {
		if sleep != nil {
			d.sleep = sleep
		}
	}
}

func NewDispatcher(registry *session.Registry, gateway messaging.Gateway, opts ...Option) *Dispatcher {
	if registry == nil || gateway == nil {
		panic("campaign: registry and gateway are required")
	}
	d := &Dispatcher{
		registry: registry,
		gateway:  gateway,
		logger:   logging.Default(),
		interval: DefaultInterval,
		sleep:    sleepContext,
		now:      registry.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// plan is everything a run needs, captured while the session lock is held.
type plan struct {
	userID     string
	campaignID string
	message    string
	recipients []contacts.PhoneRecord
	media      *messaging.Media
	progress   *session.Progress
	persisted  bool
}

// Start persists the campaign, attaches fresh progress counters to sess and
// dispatches in the background. The caller must hold the user's session lock
// and is expected to move sess into executing_campaign in the same turn.
func (d *Dispatcher) Start(ctx context.Context, sess *session.Session) (string, error) {
	p, err := d.prepare(ctx, sess)
	if err != nil {
		return "", err
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(context.WithoutCancel(ctx), p)
	}()
	return p.campaignID, nil
}

// Execute runs the user's campaign to completion on the calling goroutine.
func (d *Dispatcher) Execute(ctx context.Context, userID string) (session.ProgressSnapshot, error) {
	var p plan
	err := d.registry.WithLock(userID, func(s *session.Session) error {
		if s.Step != session.StepExecutingCampaign {
			return ErrNotExecuting
		}
		var err error
		p, err = d.prepare(ctx, s)
		return err
	})
	if err != nil {
		return session.ProgressSnapshot{}, err
	}
	return d.run(ctx, p), nil
}

// Wait blocks until background dispatches have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown waits for running dispatches or until ctx is done. Runs are not
// interrupted; a started batch always reaches every recipient.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) prepare(ctx context.Context, sess *session.Session) (plan, error) {
	c := &sess.Campaign
	if strings.TrimSpace(c.SelectedCopy) == "" {
		return plan{}, ErrNoMessage
	}
	recipients := contacts.ValidRecords(c.PhoneRecords)

	id, persisted := d.persist(ctx, sess, recipients)
	c.CampaignID = id
	c.Progress = session.NewProgress(len(recipients), d.now())

	p := plan{
		userID:     sess.UserID,
		campaignID: id,
		message:    c.SelectedCopy,
		recipients: recipients,
		progress:   c.Progress,
		persisted:  persisted,
	}
	if c.Image != nil && len(c.Image.Data) > 0 {
		p.media = &messaging.Media{
			Kind:     "image",
			MimeType: messaging.DefaultMimeType("image", c.Image.Filename),
			Filename: c.Image.Filename,
			Data:     c.Image.Data,
		}
		if c.Image.MimeType != "" {
			p.media.MimeType = c.Image.MimeType
		}
	}
	return p, nil
}

// persist writes the campaign and its recipients. A failed write still yields
// an id so dispatch can proceed.
func (d *Dispatcher) persist(ctx context.Context, sess *session.Session, recipients []contacts.PhoneRecord) (string, bool) {
	fallback := "temp-" + uuid.NewString()
	logger := d.logger.ForUser(sess.UserID)
	if d.store == nil {
		return fallback, false
	}
	c := sess.Campaign
	id, err := d.store.CreateCampaign(ctx, NewCampaign{
		UserPhone:       sess.UserID,
		Message:         c.SelectedCopy,
		ContactFile:     attachmentOf(c.ContactFile),
		Image:           attachmentOf(c.Image),
		TotalRecipients: len(recipients),
	})
	if err != nil {
		logger.Error("campaign persistence failed, using temporary id", "error", err, "campaign_id", fallback)
		return fallback, false
	}
	if err := d.store.SavePhones(ctx, id, recipients); err != nil {
		logger.Error("campaign recipients not persisted", "error", err, "campaign_id", id)
	}
	d.archive(ctx, id, c, logger)
	return id, true
}

func (d *Dispatcher) archive(ctx context.Context, campaignID string, c session.CampaignData, logger *logging.Logger) {
	if d.archiver == nil {
		return
	}
	for _, f := range []*session.File{c.ContactFile, c.Image} {
		if f == nil || len(f.Data) == 0 {
			continue
		}
		key := fmt.Sprintf("campaigns/%s/%s", campaignID, f.Filename)
		if _, err := d.archiver.Archive(ctx, key, f.MimeType, f.Data); err != nil {
			logger.Warn("campaign upload not archived", "error", err, "key", key)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, p plan) session.ProgressSnapshot {
	start := time.Now()
	logger := d.logger.ForUser(p.userID).With("campaign_id", p.campaignID)
	d.metrics.DispatchStarted()
	logger.Info("campaign dispatch started", "recipients", len(p.recipients), "with_media", p.media != nil)

	status := StatusCompleted
	defer func() {
		if r := recover(); r != nil {
			status = StatusFailed
			logger.Error("campaign dispatch panicked", "panic", fmt.Sprint(r))
			d.finish(ctx, p, status, logger)
		}
		d.metrics.DispatchFinished(string(status), time.Since(start))
	}()

	for i, r := range p.recipients {
		text := Personalize(p.message, r.Raw)
		var err error
		if p.media != nil {
			err = d.gateway.SendMedia(ctx, r.Formatted, *p.media, text)
		} else {
			err = d.gateway.SendText(ctx, r.Formatted, text)
		}
		if err != nil {
			p.progress.RecordFailed()
			d.metrics.ObserveSend("failed", p.media != nil)
			logger.Warn("campaign send failed", "error", err, "recipient_index", i)
		} else {
			p.progress.RecordSent()
			d.metrics.ObserveSend("sent", p.media != nil)
		}
		if i < len(p.recipients)-1 && d.interval > 0 {
			if err := d.sleep(ctx, d.interval); err != nil {
				logger.Warn("rate limit wait interrupted", "error", err)
			}
		}
	}

	snap := p.progress.Snapshot()
	if snap.Sent == 0 && snap.Failed > 0 {
		status = StatusFailed
	}
	d.finish(ctx, p, status, logger)
	logger.Info("campaign dispatch finished",
		"sent", snap.Sent,
		"delivered", snap.Delivered,
		"failed", snap.Failed,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return snap
}

func (d *Dispatcher) finish(ctx context.Context, p plan, status Status, logger *logging.Logger) {
	if d.store == nil || !p.persisted {
		return
	}
	if err := d.store.Finish(context.WithoutCancel(ctx), p.campaignID, status, p.progress.Snapshot()); err != nil {
		logger.Error("campaign final counters not persisted", "error", err)
	}
}

// Personalize substitutes the name placeholder with value. Templates without
// the placeholder are returned unchanged.
func Personalize(template, value string) string {
	return strings.ReplaceAll(template, generation.Placeholder, value)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
