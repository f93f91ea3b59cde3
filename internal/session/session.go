package session

import (
	"sync"
	"time"

	"github.com/lucasdeangeli4scale/disparaai/internal/contacts"
)

// Step is a conversation step. The string values are exposed verbatim on
// monitoring surfaces.
type Step string

const (
	StepWelcome           Step = "welcome"
	StepAwaitingCSV       Step = "awaiting_csv"
	StepCSVProcessed      Step = "csv_processed"
	StepGeneratingCopy    Step = "generating_copy"
	StepCopySelection     Step = "copy_selection"
	StepAwaitingApproval  Step = "awaiting_approval"
	StepExecutingCampaign Step = "executing_campaign"
	StepCustomMessage     Step = "custom_message"
	StepDirectSend        Step = "direct_send"
)

var allSteps = []Step{
	StepWelcome,
	StepAwaitingCSV,
	StepCSVProcessed,
	StepGeneratingCopy,
	StepCopySelection,
	StepAwaitingApproval,
	StepExecutingCampaign,
	StepCustomMessage,
	StepDirectSend,
}

// AllSteps returns every defined step in workflow order.
func AllSteps() []Step {
	out := make([]Step, len(allSteps))
	copy(out, allSteps)
	return out
}

// Valid reports whether s is a member of the step vocabulary.
func (s Step) Valid() bool {
	for _, step := range allSteps {
		if s == step {
			return true
		}
	}
	return false
}

func (s Step) String() string { return string(s) }

// Busy reports whether a background actor owns the session in this step.
func (s Step) Busy() bool {
	return s == StepGeneratingCopy || s == StepExecutingCampaign
}

// ContextType describes what a generation request is built from.
type ContextType string

const (
	ContextImage    ContextType = "image"
	ContextText     ContextType = "text"
	ContextExisting ContextType = "existing"
)

// File is an uploaded binary with its metadata.
type File struct {
	Filename string
	MimeType string
	Data     []byte
	Width    int
	Height   int
	Format   string
}

// Size returns the payload length in bytes.
func (f *File) Size() int {
	if f == nil {
		return 0
	}
	return len(f.Data)
}

// CopyOption is one generated message variant.
type CopyOption struct {
	Style   string `json:"style"`
	Message string `json:"message"`
}

// HistoryEntry records one inbound turn. Binary payloads are replaced with a placeholder.
type HistoryEntry struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
	Type string    `json:"type"`
}

// CampaignData is the campaign working set carried by a session.
type CampaignData struct {
	ContactFile  *File
	PhoneRecords []contacts.PhoneRecord
	Stats        contacts.Stats
	Image        *File
	TextContext  string
	ContextType  ContextType
	CopyOptions  []CopyOption
	SelectedCopy string
	CampaignID   string
	Progress     *Progress
	CreatedAt    time.Time
}

// HasContext reports whether generation has something to work from.
func (c *CampaignData) HasContext() bool {
	return c.Image != nil || c.TextContext != ""
}

// Option returns the 1-based copy option n.
func (c *CampaignData) Option(n int) (CopyOption, bool) {
	if n < 1 || n > len(c.CopyOptions) {
		return CopyOption{}, false
	}
	return c.CopyOptions[n-1], true
}

// Completed reports whether every valid recipient has been attempted.
func (c *CampaignData) Completed() bool {
	if c.Progress == nil {
		return false
	}
	snap := c.Progress.Snapshot()
	return snap.Sent+snap.Failed >= int64(c.Stats.Valid)
}

// Session is the per-user conversation state. It is only mutated while the
// registry lock for its user is held.
type Session struct {
	UserID            string
	Step              Step
	Campaign          CampaignData
	History           []HistoryEntry
	CreatedAt         time.Time
	LastInteractionAt time.Time
}

func newSession(userID string, now time.Time) *Session {
	return &Session{
		UserID:            userID,
		Step:              StepWelcome,
		CreatedAt:         now,
		LastInteractionAt: now,
	}
}

// Record appends a turn to the history and bumps the interaction time.
func (s *Session) Record(text, kind string, at time.Time) {
	s.History = append(s.History, HistoryEntry{At: at, Text: text, Type: kind})
	s.LastInteractionAt = at
}

// ResetWorkflow returns the session to welcome and drops all campaign data.
// History is kept.
func (s *Session) ResetWorkflow() {
	s.Step = StepWelcome
	s.Campaign = CampaignData{}
}

// Progress counts dispatch outcomes. Counters only move forward and can be
// read without holding the session lock.
type Progress struct {
	mu        sync.Mutex
	total     int64
	sent      int64
	delivered int64
	failed    int64
	startedAt time.Time
}

// ProgressSnapshot is a consistent read of a Progress.
type ProgressSnapshot struct {
	Total     int64     `json:"total"`
	Sent      int64     `json:"sent"`
	Delivered int64     `json:"delivered"`
	Failed    int64     `json:"failed"`
	StartedAt time.Time `json:"started_at"`
}

// NewProgress starts a counter set for total recipients.
func NewProgress(total int, now time.Time) *Progress {
	return &Progress{total: int64(total), startedAt: now}
}

// RecordSent counts a successful delivery.
func (p *Progress) RecordSent() {
	p.mu.Lock()
	p.sent++
	p.delivered++
	p.mu.Unlock()
}

// RecordFailed counts a recipient whose send failed.
func (p *Progress) RecordFailed() {
	p.mu.Lock()
	p.failed++
	p.mu.Unlock()
}

// Snapshot returns the current counters.
func (p *Progress) Snapshot() ProgressSnapshot {
	if p == nil {
		return ProgressSnapshot{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return ProgressSnapshot{
		Total:     p.total,
		Sent:      p.sent,
		Delivered: p.delivered,
		Failed:    p.failed,
		StartedAt: p.startedAt,
	}
}

// Done reports whether every recipient has been attempted.
func (s ProgressSnapshot) Done() bool {
	return s.Sent+s.Failed >= s.Total
}

// Percent is the share of attempted recipients.
func (s ProgressSnapshot) Percent() float64 {
	if s.Total == 0 {
		return 100
	}
	return float64(s.Sent+s.Failed) / float64(s.Total) * 100
}
