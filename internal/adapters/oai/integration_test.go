//go:build integration

package oai

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medvoice/internal/provider"
)

// Exercises the live OpenAI API. Run with:
//
//	OPENAI_API_KEY=sk-... go test -tags=integration ./internal/adapters/oai/
func TestLiveTextCapabilities(t *testing.T) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		t.Skip("OPENAI_API_KEY not set, skipping integration tests")
	}

	c, err := New(provider.Config{
		Name:     "openai-live",
		Settings: map[string]string{"api_key": key},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, c.Ping(ctx))

	code, err := c.DetectLanguage(ctx, "el paciente tiene fiebre y dolor de cabeza")
	require.NoError(t, err)
	assert.Equal(t, "es", code)

	tl, err := c.Translate(ctx, provider.TranslateRequest{
		Text:           "el paciente tiene fiebre",
		SourceLanguage: "es",
		TargetLanguage: "en",
	})
	require.NoError(t, err)
	require.False(t, tl.Failed)
	assert.Contains(t, strings.ToLower(tl.Text), "fever")

	answer, err := c.Generate(ctx, provider.GenerateRequest{
		System:    "You are a concise medical assistant. Answer in one sentence.",
		Prompt:    "I have a mild headache, what should I do?",
		MaxTokens: 60,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, answer)
}
