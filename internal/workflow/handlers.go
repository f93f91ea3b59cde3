package workflow

import (
	"context"
	"slices"
	"strings"

	"github.com/lucasdeangeli4scale/disparaai/internal/contacts"
	"github.com/lucasdeangeli4scale/disparaai/internal/generation"
	"github.com/lucasdeangeli4scale/disparaai/internal/session"
	"github.com/lucasdeangeli4scale/disparaai/internal/uploads"
)

var (
	approveWords = []string{"send", "enviar", "enviar agora", "sim", "confirmar"}
	editWords    = []string{"edit", "editar"}
	customWords  = []string{"custom", "personalizada", "personalizado"}
)

func stay(s *session.Session, reply string) result {
	return result{next: s.Step, reply: reply}
}

func (e *Engine) handleWelcome(ctx context.Context, s *session.Session, ev Event) (result, error) {
	if ev.Kind == EventDocument {
		return e.loadContacts(ctx, s, ev, session.StepAwaitingCSV)
	}
	if ev.Kind == EventText && isStartCommand(ev.Text) {
		return result{next: session.StepAwaitingCSV, reply: msgStart}, nil
	}
	return result{next: session.StepWelcome, reply: msgWelcome}, nil
}

func (e *Engine) handleAwaitingCSV(ctx context.Context, s *session.Session, ev Event) (result, error) {
	if ev.Kind != EventDocument {
		return stay(s, msgUploadInstructions), nil
	}
	return e.loadContacts(ctx, s, ev, session.StepAwaitingCSV)
}

// loadContacts validates and parses a contact list. Rejected uploads move to
// onFailure with a corrective reply; they are not handler errors.
func (e *Engine) loadContacts(_ context.Context, s *session.Session, ev Event, onFailure session.Step) (result, error) {
	logger := e.logger.ForUser(s.UserID)
	if ev.Media == nil {
		return result{next: onFailure, reply: msgUploadInstructions}, nil
	}
	f := uploads.File{Filename: ev.Media.Filename, MimeType: ev.Media.MimeType, Data: ev.Media.Data}
	if err := e.policy.CheckSpreadsheet(f); err != nil {
		logger.Warn("contact upload rejected", "kind", KindValidation, "filename", f.Filename, "error", err)
		return result{next: onFailure, reply: msgUploadFailed(err)}, nil
	}
	parsed, err := e.normalizer.Parse(f.Data, f.Filename)
	if err != nil {
		logger.Warn("contact upload not parsed", "kind", KindValidation, "filename", f.Filename, "error", err)
		return result{next: onFailure, reply: msgUploadFailed(err)}, nil
	}
	if parsed.Stats.Valid == 0 {
		logger.Info("contact upload has no valid numbers", "total", parsed.Stats.Total)
		return result{next: onFailure, reply: msgNoValidContacts(parsed.Stats)}, nil
	}

	mimeType := f.MimeType
	if mimeType == "" {
		mimeType = uploads.GuessMimeType(f.Filename)
	}
	s.Campaign = session.CampaignData{
		ContactFile:  &session.File{Filename: f.Filename, MimeType: mimeType, Data: f.Data},
		PhoneRecords: parsed.Records,
		Stats:        parsed.Stats,
		CreatedAt:    e.registry.Now(),
	}
	logger.Info("contacts loaded",
		"valid", parsed.Stats.Valid,
		"invalid", parsed.Stats.Invalid,
		"columns", parsed.Columns,
		"fallback", parsed.Fallback,
	)
	return result{next: session.StepCSVProcessed, reply: msgContactsLoaded(parsed.Stats.Valid)}, nil
}

func (e *Engine) handleCSVProcessed(ctx context.Context, s *session.Session, ev Event) (result, error) {
	switch ev.Kind {
	case EventImage:
		return e.attachImage(ctx, s, ev)
	case EventDocument:
		return e.loadContacts(ctx, s, ev, session.StepCSVProcessed)
	}

	c := &s.Campaign
	cls := ClassifyIntent(ev.Text)
	switch cls.Intent {
	case IntentCustom:
		return result{next: session.StepCustomMessage, reply: msgCustomPrompt}, nil
	case IntentDirect:
		return result{next: session.StepDirectSend, reply: msgDirectPrompt}, nil
	case IntentGenerate:
		if cls.Context != "" {
			return e.startGeneration(ctx, s, generationInput{kind: session.ContextText, text: cls.Context})
		}
		if c.HasContext() {
			return e.startGeneration(ctx, s, generationInput{kind: session.ContextExisting})
		}
		return stay(s, msgContextRequest(c.Stats.Valid)), nil
	case IntentContext:
		return e.startGeneration(ctx, s, generationInput{kind: session.ContextText, text: cls.Context})
	case IntentSkip:
		return stay(s, msgSkip), nil
	case IntentStatus:
		return stay(s, msgCampaignStatus(c.Stats)), nil
	}
	return stay(s, msgContactsLoaded(c.Stats.Valid)), nil
}

// attachImage stores a validated image as the generation context and starts
// generation from it. A caption is kept as additional text context.
func (e *Engine) attachImage(ctx context.Context, s *session.Session, ev Event) (result, error) {
	if ev.Media == nil {
		return stay(s, msgImageFailed(uploads.ErrEmpty)), nil
	}
	info, err := e.policy.CheckImage(uploads.File{Filename: ev.Media.Filename, MimeType: ev.Media.MimeType, Data: ev.Media.Data})
	if err != nil {
		e.logger.ForUser(s.UserID).Warn("campaign image rejected", "kind", KindValidation, "error", err)
		return stay(s, msgImageFailed(err)), nil
	}
	mimeType := ev.Media.MimeType
	if mimeType == "" {
		mimeType = "image/" + info.Format
	}
	return e.startGeneration(ctx, s, generationInput{
		kind: session.ContextImage,
		text: strings.TrimSpace(ev.Text),
		image: &session.File{
			Filename: ev.Media.Filename,
			MimeType: mimeType,
			Data:     ev.Media.Data,
			Width:    info.Width,
			Height:   info.Height,
			Format:   info.Format,
		},
	})
}

// generationInput is the context a generation run starts from. Empty text and
// a nil image keep what the session already holds.
type generationInput struct {
	kind  session.ContextType
	text  string
	image *session.File
}

// startGeneration hands the session to the generator. The generator sends
// its own acknowledgement, so the turn is silent on success. The session
// context only changes when the generator accepts the run.
func (e *Engine) startGeneration(ctx context.Context, s *session.Session, in generationInput) (result, error) {
	c := &s.Campaign
	prevText, prevKind, prevImage := c.TextContext, c.ContextType, c.Image
	if in.text != "" {
		c.TextContext = in.text
	}
	if in.image != nil {
		c.Image = in.image
	}
	c.ContextType = in.kind
	if !e.generator.Trigger(ctx, s) {
		c.TextContext, c.ContextType, c.Image = prevText, prevKind, prevImage
		e.logger.ForUser(s.UserID).Info("generation trigger ignored", "kind", KindConcurrency)
		return stay(s, msgGenerating), nil
	}
	return result{next: session.StepGeneratingCopy, silent: true}, nil
}

func (e *Engine) handleGeneratingCopy(_ context.Context, s *session.Session, _ Event) (result, error) {
	if !e.generator.Active(s.UserID) {
		e.logger.ForUser(s.UserID).Warn("generation step without a running generation, rolling back", "kind", KindState)
		return result{next: session.StepCSVProcessed, reply: msgContactsLoaded(s.Campaign.Stats.Valid)}, nil
	}
	return stay(s, msgGenerating), nil
}

func (e *Engine) handleCopySelection(ctx context.Context, s *session.Session, ev Event) (result, error) {
	c := &s.Campaign
	text := strings.TrimSpace(ev.Text)
	lower := strings.ToLower(text)

	if n, ok := parseSendOption(text); ok {
		if opt, exists := c.Option(n); exists {
			return e.launch(ctx, s, opt.Message, msgCampaignStarted(c.Stats.Valid))
		}
		return stay(s, e.selectionMenu(c)), nil
	}
	if n, ok := parseOptionNumber(text); ok {
		if opt, exists := c.Option(n); exists {
			c.SelectedCopy = opt.Message
			return result{next: session.StepAwaitingApproval, reply: msgOptionSelected(n, opt.Message)}, nil
		}
		return stay(s, e.selectionMenu(c)), nil
	}
	if containsAny(lower, customWords) {
		return result{next: session.StepCustomMessage, reply: msgCustomPrompt}, nil
	}
	if strings.Contains(lower, "gerar copy") {
		if inline := inlineContext(text); inline != "" {
			return e.startGeneration(ctx, s, generationInput{kind: session.ContextText, text: inline})
		}
		return result{next: session.StepCSVProcessed, reply: msgContextHint}, nil
	}
	return stay(s, e.selectionMenu(c)), nil
}

func (e *Engine) selectionMenu(c *session.CampaignData) string {
	if len(c.CopyOptions) == 0 {
		return msgSelectionMenuEmpty
	}
	return generation.FormatOptions(c.CopyOptions, c.Stats.Valid, c.ContextType)
}

func (e *Engine) handleAwaitingApproval(ctx context.Context, s *session.Session, ev Event) (result, error) {
	c := &s.Campaign
	lower := strings.ToLower(strings.TrimSpace(ev.Text))
	switch {
	case slices.Contains(approveWords, lower):
		if strings.TrimSpace(c.SelectedCopy) == "" {
			return result{next: session.StepCustomMessage, reply: msgCustomEmpty}, nil
		}
		return e.launch(ctx, s, c.SelectedCopy, msgCampaignStarted(c.Stats.Valid))
	case slices.Contains(editWords, lower):
		if len(c.CopyOptions) > 0 {
			return result{next: session.StepCopySelection, reply: e.selectionMenu(c)}, nil
		}
		return result{next: session.StepCSVProcessed, reply: msgEditing(c.Stats.Valid)}, nil
	}
	return stay(s, msgConfirm), nil
}

func (e *Engine) handleCustomMessage(_ context.Context, s *session.Session, ev Event) (result, error) {
	text := strings.TrimSpace(ev.Text)
	if ev.Kind != EventText || text == "" {
		return stay(s, msgCustomEmpty), nil
	}
	s.Campaign.SelectedCopy = text
	return result{next: session.StepAwaitingApproval, reply: msgCustomSet(s.Campaign.Stats.Valid, text)}, nil
}

func (e *Engine) handleDirectSend(ctx context.Context, s *session.Session, ev Event) (result, error) {
	text := strings.TrimSpace(ev.Text)
	if ev.Kind != EventText || text == "" {
		return stay(s, msgDirectEmpty), nil
	}
	return e.launch(ctx, s, text, msgSending(s.Campaign.Stats.Valid, text))
}

// launch selects message and starts dispatch. A launcher error keeps the
// current step and the previous selection.
func (e *Engine) launch(ctx context.Context, s *session.Session, message, reply string) (result, error) {
	prev := s.Campaign.SelectedCopy
	s.Campaign.SelectedCopy = message
	id, err := e.launcher.Start(ctx, s)
	if err != nil {
		s.Campaign.SelectedCopy = prev
		return result{}, &Error{Kind: KindExternalService, Op: "launch campaign", Err: err}
	}
	e.logger.ForUser(s.UserID).Info("campaign launched",
		"campaign_id", id,
		"recipients", len(contacts.ValidRecords(s.Campaign.PhoneRecords)),
	)
	return result{next: session.StepExecutingCampaign, reply: reply}, nil
}

func (e *Engine) handleExecutingCampaign(ctx context.Context, s *session.Session, ev Event) (result, error) {
	c := &s.Campaign
	if c.Progress == nil {
		e.logger.ForUser(s.UserID).Warn("executing step without progress, resetting", "kind", KindState)
		s.ResetWorkflow()
		return e.handleWelcome(ctx, s, ev)
	}
	if ev.Kind == EventText && ClassifyIntent(ev.Text).Intent == IntentStatus {
		return stay(s, msgProgress(c.Stats.Valid, c.Progress.Snapshot(), c.Completed())), nil
	}
	if c.Completed() {
		s.ResetWorkflow()
		return e.handleWelcome(ctx, s, ev)
	}
	return stay(s, msgRunning), nil
}
