// Package documents turns a finished session transcript into a clinical
// document with a single chat completion.
package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/SANCHES-Pedro/bq-back/internal/observability/metrics"
)

var (
	// ErrEmptyTranscript is returned when there is nothing to summarize.
	ErrEmptyTranscript = errors.New("transcript is empty")
	// ErrUnknownTemplate is returned for a document kind with no prompt.
	ErrUnknownTemplate = errors.New("unknown document template")
	// ErrNoChoices is returned when the model answers without content.
	ErrNoChoices = errors.New("model returned no choices")
)

// Config configures a Generator.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string // empty uses the OpenAI API
	Timeout time.Duration
}

// Request is one document generation request.
type Request struct {
	Transcript string `json:"transcript"`
	Template   string `json:"template"` // soap, referral, summary; empty means soap
	Notes      string `json:"notes,omitempty"`
}

// Generator builds prompts from templates and asks the model for the document.
type Generator struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	prompts *template.Template
}

const systemPrompt = "You are a clinical documentation assistant. " +
	"Write only from what the transcript states. Never invent findings, doses or diagnoses."

// One named template per document kind. Each receives a Request.
const promptTemplates = `
{{define "soap"}}Write a SOAP note (Subjective, Objective, Assessment, Plan) for the consultation below.
{{template "body" .}}{{end}}
{{define "referral"}}Write a referral letter to a specialist summarizing the consultation below. Include the reason for referral and relevant history.
{{template "body" .}}{{end}}
{{define "summary"}}Write a short plain-language summary of the consultation below for the patient.
{{template "body" .}}{{end}}
{{define "body"}}
Transcript:
{{.Transcript}}
{{- with .Notes}}

Clinician notes:
{{.}}
{{- end}}
{{end}}`

// New creates a Generator. It returns nil when no API key is configured.
func New(cfg Config) *Generator {
	if cfg.APIKey == "" {
		return nil
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Generator{
		client:  openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		prompts: template.Must(template.New("documents").Parse(promptTemplates)),
	}
}

// Prompt renders the user prompt for req.
func (g *Generator) Prompt(req Request) (string, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return "", ErrEmptyTranscript
	}
	kind := strings.ToLower(strings.TrimSpace(req.Template))
	if kind == "" {
		kind = "soap"
	}
	if kind == "body" || g.prompts.Lookup(kind) == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownTemplate, req.Template)
	}

	var buf bytes.Buffer
	if err := g.prompts.ExecuteTemplate(&buf, kind, req); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", kind, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Generate returns the document text for req.
func (g *Generator) Generate(ctx context.Context, req Request) (doc string, err error) {
	start := time.Now()
	defer func() {
		metrics.DefaultMetrics.RecordDocument(err, time.Since(start).Seconds())
	}()

	prompt, err := g.Prompt(req)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrNoChoices
	}

	log.Debug().
		Str("model", g.model).
		Int("promptTokens", resp.Usage.PromptTokens).
		Int("completionTokens", resp.Usage.CompletionTokens).
		Msg("Document generated")

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
