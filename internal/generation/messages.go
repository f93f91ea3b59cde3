package generation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lucasdeangeli4scale/disparaai/internal/session"
)

const previewLimit = 80

// AckMessage is the single acknowledgment sent when a generation starts.
func AckMessage(req Request) string {
	switch req.ContextType {
	case session.ContextImage:
		return "✅ *Imagem recebida!*\n\n🤖 Analisando sua imagem e gerando copy personalizada...\n\n*As opções serão enviadas em alguns segundos!*"
	case session.ContextText:
		preview := req.TextContext
		if preview == "" {
			preview = "descrição"
		}
		if r := []rune(preview); len(r) > previewLimit {
			preview = string(r[:previewLimit]) + "..."
		}
		return fmt.Sprintf("✅ *Descrição recebida!*\n\n🤖 Gerando copy personalizada: \"%s\"\n\n*As opções serão enviadas em alguns segundos!*", preview)
	default:
		return "✅ *Contexto encontrado!*\n\n🤖 Gerando copy personalizada com base no contexto existente...\n\n*As opções serão enviadas em alguns segundos!*"
	}
}

// RetryMessage is delivered when a generation fails.
const RetryMessage = "❌ *Erro na geração*\n\n*Digite \"personalizada\" para continuar* ou tente novamente com:\n🤖 *\"gerar copy: [descrição]\"* - Nova tentativa\n📤 *\"enviar direto\"* - Mensagem simples"

// FormatOptions renders generated options for WhatsApp.
func FormatOptions(options []session.CopyOption, validCount int, ctxType session.ContextType) string {
	var b strings.Builder
	note := ""
	switch ctxType {
	case session.ContextImage:
		note = " (baseadas na análise da sua imagem)"
	case session.ContextText:
		note = " (baseadas na sua descrição)"
	}
	fmt.Fprintf(&b, "*%d opções para %d contatos%s:*\n", len(options), validCount, note)
	for i, opt := range options {
		fmt.Fprintf(&b, "\n*%d: %s*\n%s\n📤 *\"enviar %d\"* - Envio direto\n", i+1, opt.Style, opt.Message, i+1)
	}
	choices := make([]string, len(options))
	for i := range options {
		choices[i] = fmt.Sprint(i + 1)
	}
	fmt.Fprintf(&b, "\n*Ou digite: %s para revisar ou \"personalizada\"*", strings.Join(choices, ", "))
	return b.String()
}

// CampaignContext summarizes the audience for the copy prompt.
func CampaignContext(validCount int, countries map[string]int) string {
	names := "Global"
	if len(countries) > 0 {
		codes := make([]string, 0, len(countries))
		for code := range countries {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		names = strings.Join(codes, ", ")
	}
	return fmt.Sprintf("- Destinatários: %d contatos\n- Países: %s", validCount, names)
}
