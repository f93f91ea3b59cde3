package workflow

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Intent is what a free-text message in csv_processed asks for.
type Intent int

const (
	IntentMenu Intent = iota
	IntentCustom
	IntentDirect
	IntentGenerate
	IntentContext
	IntentSkip
	IntentStatus
)

func (i Intent) String() string {
	switch i {
	case IntentCustom:
		return "custom"
	case IntentDirect:
		return "direct"
	case IntentGenerate:
		return "generate"
	case IntentContext:
		return "context"
	case IntentSkip:
		return "skip"
	case IntentStatus:
		return "status"
	default:
		return "menu"
	}
}

// Classification is the result of ClassifyIntent. Context carries the
// generation context for IntentContext and for an inline "gerar copy:" command.
type Classification struct {
	Intent  Intent
	Context string
}

const (
	inlineCommand      = "gerar copy:"
	minInlineContext   = 5
	minContextFallback = 10
)

var (
	customKeywords = []string{"personalizada", "minha mensagem", "escrever", "personalizar", "customizar"}
	directKeywords = []string{"enviar direto", "direto", "imediato", "sem personalização", "envio direto"}
	aiKeywords     = []string{"gerar copy", "gerar", "inteligência artificial", "criar copy", "automático"}
	aiWords        = []string{"ai"}
	statusKeywords = []string{"status", "progress", "stats"}
	skipKeywords   = []string{"pular"}
	startKeywords  = []string{
		"hi", "hello", "start", "campaign", "bulk", "begin", "new",
		"oi", "olá", "iniciar", "campanha", "comecar", "começar", "novo", "nova",
	}
)

// ClassifyIntent maps a message to an intent by keyword containment. The
// first match wins in this order: custom, direct, generate, context
// fallback, skip, status, menu.
func ClassifyIntent(text string) Classification {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	switch {
	case containsAny(lower, customKeywords):
		return Classification{Intent: IntentCustom}
	case containsAny(lower, directKeywords):
		return Classification{Intent: IntentDirect}
	case containsAny(lower, aiKeywords) || hasWord(lower, aiWords):
		return Classification{Intent: IntentGenerate, Context: inlineContext(trimmed)}
	case utf8.RuneCountInString(trimmed) > minContextFallback && !containsAny(lower, statusKeywords):
		return Classification{Intent: IntentContext, Context: trimmed}
	case containsAny(lower, skipKeywords):
		return Classification{Intent: IntentSkip}
	case containsAny(lower, statusKeywords):
		return Classification{Intent: IntentStatus}
	}
	return Classification{Intent: IntentMenu}
}

// inlineContext returns the text after "gerar copy:" when it is long enough.
func inlineContext(text string) string {
	if !strings.Contains(strings.ToLower(text), inlineCommand) {
		return ""
	}
	_, after, ok := strings.Cut(text, ":")
	if !ok {
		return ""
	}
	ctx := strings.TrimSpace(after)
	if utf8.RuneCountInString(ctx) <= minInlineContext {
		return ""
	}
	return ctx
}

// isStartCommand reports whether text asks to begin a campaign.
func isStartCommand(text string) bool {
	return containsAny(strings.ToLower(strings.TrimSpace(text)), startKeywords)
}

// parseSendOption parses "enviar N" with N in 1..3.
func parseSendOption(text string) (int, bool) {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) != 2 || fields[0] != "enviar" {
		return 0, false
	}
	return parseOptionNumber(fields[1])
}

// parseOptionNumber parses a bare option number in 1..3.
func parseOptionNumber(text string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 1 || n > 3 {
		return 0, false
	}
	return n, true
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// hasWord matches whole words only, so "ai" does not fire on "mais".
func hasWord(text string, words []string) bool {
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		for _, w := range words {
			if tok == w {
				return true
			}
		}
	}
	return false
}
