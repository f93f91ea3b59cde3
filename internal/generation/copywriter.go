package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lucasdeangeli4scale/disparaai/internal/session"
)

// Placeholder is substituted with each recipient's raw value at send time.
const Placeholder = "{{name}}"

const (
	minOptions = 2
	maxOptions = 3
)

// ErrInvalidOptions is returned when the model output cannot be turned into usable options.
var ErrInvalidOptions = errors.New("generation: model returned no usable copy options")

// CopyInput is what copy generation is built from.
type CopyInput struct {
	// Campaign describes the audience (recipient count, countries).
	Campaign      string
	ImageAnalysis string
	TextContext   string
}

// Generator is the generation service consumed by the coordinator.
type Generator interface {
	GenerateCopyOptions(ctx context.Context, in CopyInput) ([]session.CopyOption, error)
	AnalyzeImage(ctx context.Context, data []byte, format string) (string, error)
}

var copySystemPrompt = []string{
	"Você é um especialista em copywriting para WhatsApp.",
	"Gere sempre 3 opções distintas de mensagem nos estilos Profissional, Amigável e Promocional.",
	"Cada mensagem deve conter exatamente uma vez o marcador " + Placeholder + " para personalização.",
	"Mantenha mensagens concisas, com call-to-action claro, em português brasileiro.",
	"Use formatação WhatsApp: *negrito*, _itálico_. Não use ###.",
	`Responda somente com JSON no formato {"options":[{"style":"...","message":"..."}]}.`,
}

var imageSystemPrompt = []string{
	"Você é um especialista em análise de imagens para criação de copy de marketing.",
	"Descreva em português brasileiro: produtos ou serviços mostrados, público-alvo aparente, " +
		"mood, cores predominantes, benefícios visíveis e o contexto da imagem.",
}

// CopyWriter implements Generator on top of an LLMClient.
type CopyWriter struct {
	llm       LLMClient
	model     string
	maxTokens int32
}

// NewCopyWriter wraps llm. model may be empty when the client carries a default.
func NewCopyWriter(llm LLMClient, model string) *CopyWriter {
	if llm == nil {
		panic("generation: llm client cannot be nil")
	}
	return &CopyWriter{llm: llm, model: model, maxTokens: 1200}
}

// AnalyzeImage asks the model for a marketing-oriented description of the image.
func (w *CopyWriter) AnalyzeImage(ctx context.Context, data []byte, format string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("generation: image payload is empty")
	}
	if format == "" {
		format = "jpeg"
	}
	resp, err := w.llm.Complete(ctx, LLMRequest{
		Model:  w.model,
		System: imageSystemPrompt,
		Messages: []ChatMessage{{
			Role:    ChatRoleUser,
			Content: "Analise esta imagem detalhadamente para criação de copy de marketing.",
		}},
		Image:       &ImageInput{Format: format, Data: data},
		MaxTokens:   600,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("generation: analyze image: %w", err)
	}
	return resp.Text, nil
}

// GenerateCopyOptions returns 2 or 3 styled options, each with exactly one placeholder.
func (w *CopyWriter) GenerateCopyOptions(ctx context.Context, in CopyInput) ([]session.CopyOption, error) {
	resp, err := w.llm.Complete(ctx, LLMRequest{
		Model:       w.model,
		System:      copySystemPrompt,
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: buildCopyPrompt(in)}},
		MaxTokens:   w.maxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("generation: generate copy: %w", err)
	}
	return ParseCopyOptions(resp.Text)
}

func buildCopyPrompt(in CopyInput) string {
	var b strings.Builder
	b.WriteString("Gere 3 opções de copy para campanha WhatsApp.\n\nCONTEXTO DA CAMPANHA:\n")
	b.WriteString(in.Campaign)
	if in.ImageAnalysis != "" {
		b.WriteString("\n\nCONTEXTO DA IMAGEM:\n")
		b.WriteString(in.ImageAnalysis)
	}
	if in.TextContext != "" {
		b.WriteString("\n\nDESCRIÇÃO DO NEGÓCIO/CAMPANHA:\n")
		b.WriteString(in.TextContext)
	}
	return b.String()
}

// ParseCopyOptions extracts options from model output. Options missing the
// placeholder get a greeting carrying it; options repeating it are dropped.
func ParseCopyOptions(text string) ([]session.CopyOption, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("%w: no json object in response", ErrInvalidOptions)
	}
	var payload struct {
		Options []session.CopyOption `json:"options"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	out := make([]session.CopyOption, 0, maxOptions)
	for _, opt := range payload.Options {
		msg := strings.TrimSpace(opt.Message)
		if msg == "" {
			continue
		}
		switch strings.Count(msg, Placeholder) {
		case 0:
			msg = "Olá " + Placeholder + "! " + msg
		case 1:
		default:
			continue
		}
		style := strings.TrimSpace(opt.Style)
		if style == "" {
			style = fmt.Sprintf("Opção %d", len(out)+1)
		}
		out = append(out, session.CopyOption{Style: style, Message: msg})
		if len(out) == maxOptions {
			break
		}
	}
	if len(out) < minOptions {
		return nil, fmt.Errorf("%w: got %d options", ErrInvalidOptions, len(out))
	}
	return out, nil
}

// extractJSON returns the outermost JSON object in s, tolerating code fences.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
