// Package gemini adapts Google Gemini models to the text capabilities:
// language detection, translation and response generation.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"medvoice/internal/apperrors"
	"medvoice/internal/provider"
)

const (
	defaultModel     = "gemini-2.0-flash"
	defaultMaxTokens = 256
)

type Client struct {
	api   *genai.Client
	cfg   provider.Config
	model string
}

func New(ctx context.Context, cfg provider.Config) (*Client, error) {
	key := cfg.Setting("api_key", "")
	if key == "" {
		return nil, apperrors.RequiredField("gemini api_key")
	}
	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "gemini client")
	}
	return &Client{
		api:   api,
		cfg:   cfg,
		model: cfg.Setting("model", defaultModel),
	}, nil
}

const detectSystem = "Identify the language of the user text. " +
	"Reply with only the ISO 639-1 code, for example en or es."

func (c *Client) DetectLanguage(ctx context.Context, text string) (string, error) {
	out, err := c.generate(ctx, detectSystem, text, 8, 0)
	if err != nil {
		return "", err
	}
	code := strings.ToLower(strings.Trim(out, " .\"'"))
	if len(code) > 2 {
		code = code[:2]
	}
	return code, nil
}

func (c *Client) Translate(ctx context.Context, req provider.TranslateRequest) (*provider.Translation, error) {
	system := fmt.Sprintf("Translate the user text from %s to %s. "+
		"Keep medical terms precise. Reply with the translation only.",
		req.SourceLanguage, req.TargetLanguage)

	out, err := c.generate(ctx, system, req.Text, 0, 0.2)
	if err != nil {
		return nil, apperrors.Wrap(err, "gemini translation")
	}
	if out == "" {
		return &provider.Translation{
			SourceLanguage: req.SourceLanguage,
			TargetLanguage: req.TargetLanguage,
			Provider:       c.cfg.Name,
			Failed:         true,
			ErrorMessage:   "empty translation",
		}, nil
	}
	return &provider.Translation{
		Text:           out,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		Provider:       c.cfg.Name,
	}, nil
}

func (c *Client) Generate(ctx context.Context, req provider.GenerateRequest) (string, error) {
	prompt := req.Prompt
	if len(req.Context) > 0 {
		var b strings.Builder
		b.WriteString("Reference notes:\n")
		for _, item := range req.Context {
			b.WriteString("- ")
			b.WriteString(item.Content)
			b.WriteByte('\n')
		}
		b.WriteString("\nQuestion: ")
		b.WriteString(req.Prompt)
		prompt = b.String()
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	out, err := c.generate(ctx, req.System, prompt, maxTokens, 0.3)
	if err != nil {
		return "", apperrors.Wrap(err, "gemini generation")
	}
	if out == "" {
		return "", apperrors.New("gemini returned an empty response")
	}
	return out, nil
}

// Ping issues a one token generation, the smallest request that proves the
// key and model are usable.
func (c *Client) Ping(ctx context.Context) error {
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: 1}
	if _, err := c.api.Models.GenerateContent(ctx, c.model, genai.Text("ping"), cfg); err != nil {
		return apperrors.Wrap(err, "gemini ping")
	}
	return nil
}

func (c *Client) generate(ctx context.Context, system, prompt string, maxTokens int, temperature float32) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}
	if temperature > 0 {
		cfg.Temperature = genai.Ptr[float32](temperature)
	}
	resp, err := c.api.Models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", apperrors.Wrap(err, "gemini request")
	}
	return strings.TrimSpace(resp.Text()), nil
}
