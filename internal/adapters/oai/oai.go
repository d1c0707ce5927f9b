// Package oai adapts OpenAI-compatible APIs to the provider contracts. The
// base_url setting points the same adapter at self-hosted OpenAI-compatible
// servers (whisper.cpp server, vLLM, LocalAI), which is how privacy-safe
// in-boundary providers are deployed.
package oai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/sashabaranov/go-openai"

	"medvoice/internal/apperrors"
	"medvoice/internal/provider"
)

const (
	defaultChatModel = openai.GPT4oMini
	defaultSTTModel  = openai.Whisper1
	defaultTTSModel  = string(openai.TTSModel1)
	defaultVoice     = string(openai.VoiceAlloy)

	// Whisper verbose responses from some local servers omit segments;
	// those transcripts get a neutral confidence.
	defaultConfidence = 0.8

	defaultMaxTokens = 256
)

// Client implements every text and audio capability against one
// OpenAI-compatible endpoint.
type Client struct {
	api *openai.Client
	cfg provider.Config

	chatModel string
	sttModel  string
	ttsModel  string
	voice     string
}

// New builds a client from the provider settings. api_key may be empty when
// base_url points at a local server that does not authenticate.
func New(cfg provider.Config) (*Client, error) {
	key := cfg.Setting("api_key", "")
	baseURL := cfg.Setting("base_url", "")
	if key == "" && baseURL == "" {
		return nil, apperrors.RequiredField("openai api_key")
	}

	ocfg := openai.DefaultConfig(key)
	if baseURL != "" {
		ocfg.BaseURL = baseURL
	}

	return &Client{
		api:       openai.NewClientWithConfig(ocfg),
		cfg:       cfg,
		chatModel: cfg.Setting("model", defaultChatModel),
		sttModel:  cfg.Setting("stt_model", defaultSTTModel),
		ttsModel:  cfg.Setting("tts_model", defaultTTSModel),
		voice:     cfg.Setting("voice", defaultVoice),
	}, nil
}

func (c *Client) Transcribe(ctx context.Context, req provider.TranscribeRequest) (*provider.Transcript, error) {
	if len(req.Audio) == 0 {
		return nil, apperrors.RequiredField("audio")
	}

	areq := openai.AudioRequest{
		Model:    c.sttModel,
		FilePath: "utterance." + audioExt(req.Format),
		Reader:   bytes.NewReader(req.Audio),
		Format:   openai.AudioResponseFormatVerboseJSON,
		Prompt:   req.Prompt,
	}
	if len(req.LanguageHints) == 1 {
		areq.Language = req.LanguageHints[0]
	}
	if c.cfg.SupportsWordTimings {
		areq.TimestampGranularities = []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
		}
	}

	resp, err := c.api.CreateTranscription(ctx, areq)
	if err != nil {
		return nil, apperrors.Wrap(err, "openai transcription")
	}

	logprobs := make([]float64, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		logprobs = append(logprobs, seg.AvgLogprob)
	}
	tr := &provider.Transcript{
		Text:       strings.TrimSpace(resp.Text),
		Language:   shortLanguage(resp.Language),
		Confidence: confidenceFromLogprobs(logprobs),
		Provider:   c.cfg.Name,
		Final:      true,
	}
	for _, w := range resp.Words {
		tr.Words = append(tr.Words, provider.Word{Word: w.Word, Start: w.Start, End: w.End})
	}
	return tr, nil
}

const detectSystem = "Identify the language of the user text. " +
	"Reply with only the ISO 639-1 code, for example en or es."

func (c *Client) DetectLanguage(ctx context.Context, text string) (string, error) {
	out, err := c.chat(ctx, detectSystem, text, 4, 0)
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

	out, err := c.chat(ctx, system, req.Text, 0, 0.2)
	if err != nil {
		return nil, apperrors.Wrap(err, "openai translation")
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
	messages := make([]openai.ChatCompletionMessage, 0, 3)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	if len(req.Context) > 0 {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: contextBlock(req.Context),
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return "", apperrors.Wrap(err, "openai generation")
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.New("openai generation returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *Client) Synthesize(ctx context.Context, req provider.SynthesizeRequest) (*provider.Speech, error) {
	if req.Text == "" {
		return nil, apperrors.RequiredField("synthesis text")
	}
	voice := req.Voice
	if voice == "" {
		voice = c.voice
	}
	respFormat, format := speechFormat(req.Format)

	res, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.ttsModel),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: respFormat,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "openai synthesis")
	}
	defer res.Close()

	audio, err := io.ReadAll(res)
	if err != nil {
		return nil, apperrors.Wrap(err, "read synthesized audio")
	}
	return &provider.Speech{
		Audio:    audio,
		Format:   format,
		Voice:    voice,
		Provider: c.cfg.Name,
	}, nil
}

// Ping lists models, the cheapest authenticated round trip the API offers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return apperrors.Wrap(err, "openai ping")
	}
	return nil
}

// chat runs a single system+user exchange and returns the trimmed reply.
func (c *Client) chat(ctx context.Context, system, user string, maxTokens int, temperature float32) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: temperature,
	}
	if maxTokens > 0 {
		req.MaxTokens = maxTokens
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", apperrors.Wrap(err, "openai chat")
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.New("openai chat returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func contextBlock(items []provider.ContextItem) string {
	var b strings.Builder
	b.WriteString("Ground your answer in these reference notes:\n")
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// confidenceFromLogprobs folds whisper's per-segment avg_logprob values into
// a 0..1 confidence; exp of the mean approximates per-token probability.
func confidenceFromLogprobs(logprobs []float64) float64 {
	if len(logprobs) == 0 {
		return defaultConfidence
	}
	var sum float64
	for _, lp := range logprobs {
		sum += lp
	}
	c := math.Exp(sum / float64(len(logprobs)))
	if c > 1 {
		c = 1
	}
	return c
}

// languageCodes maps the full language names whisper reports onto ISO 639-1.
var languageCodes = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"russian":    "ru",
	"chinese":    "zh",
	"japanese":   "ja",
	"korean":     "ko",
	"arabic":     "ar",
	"hindi":      "hi",
	"polish":     "pl",
	"turkish":    "tr",
	"ukrainian":  "uk",
	"vietnamese": "vi",
}

func shortLanguage(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if code, ok := languageCodes[name]; ok {
		return code
	}
	return name
}

func audioExt(f provider.AudioFormat) string {
	switch f {
	case provider.FormatMP3:
		return "mp3"
	case provider.FormatOGG:
		return "ogg"
	case provider.FormatWEBM:
		return "webm"
	default:
		return "wav"
	}
}

func speechFormat(f provider.AudioFormat) (openai.SpeechResponseFormat, provider.AudioFormat) {
	switch f {
	case provider.FormatMP3:
		return openai.SpeechResponseFormatMp3, provider.FormatMP3
	case provider.FormatOGG:
		return openai.SpeechResponseFormatOpus, provider.FormatOGG
	case provider.FormatPCM:
		return openai.SpeechResponseFormatPcm, provider.FormatPCM
	default:
		return openai.SpeechResponseFormatWav, provider.FormatWAV
	}
}
