package oai

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medvoice/internal/provider"
)

func newClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*provider.Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := provider.Config{
		Name:     "openai-test",
		Settings: map[string]string{"base_url": srv.URL + "/v1"},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func chatReply(t *testing.T, content string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		writeJSON(t, w, map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": content},
					"finish_reason": "stop",
				},
			},
		})
	}
}

func TestNew_RequiresKeyOrBaseURL(t *testing.T) {
	_, err := New(provider.Config{Name: "bare"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key is required")

	_, err = New(provider.Config{
		Name:     "local",
		Settings: map[string]string{"base_url": "http://localhost:9000/v1"},
	})
	assert.NoError(t, err)
}

func TestTranscribe_ParsesVerboseResponse(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(32<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		assert.Equal(t, "en", r.FormValue("language"))
		assert.Equal(t, "word", r.FormValue("timestamp_granularities[]"))

		_, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "utterance.wav", hdr.Filename)

		writeJSON(t, w, map[string]any{
			"task":     "transcribe",
			"language": "english",
			"duration": 2.1,
			"text":     "  I have a headache ",
			"segments": []map[string]any{
				{"id": 0, "avg_logprob": -0.2},
				{"id": 1, "avg_logprob": -0.4},
			},
			"words": []map[string]any{
				{"word": "I", "start": 0.0, "end": 0.2},
				{"word": "have", "start": 0.2, "end": 0.5},
			},
		})
	}
	c := newClient(t, handler, func(cfg *provider.Config) {
		cfg.SupportsWordTimings = true
	})

	tr, err := c.Transcribe(context.Background(), provider.TranscribeRequest{
		Audio:         []byte("RIFFaudio"),
		Format:        provider.FormatWAV,
		LanguageHints: []string{"en"},
	})
	require.NoError(t, err)
	assert.Equal(t, "I have a headache", tr.Text)
	assert.Equal(t, "en", tr.Language)
	assert.InDelta(t, math.Exp(-0.3), tr.Confidence, 1e-9)
	assert.Equal(t, "openai-test", tr.Provider)
	assert.True(t, tr.Final)
	require.Len(t, tr.Words, 2)
	assert.Equal(t, "have", tr.Words[1].Word)
}

func TestTranscribe_RequiresAudio(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.Transcribe(context.Background(), provider.TranscribeRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audio is required")
}

func TestDetectLanguage_NormalizesReply(t *testing.T) {
	c := newClient(t, chatReply(t, " ES. "))
	code, err := c.DetectLanguage(context.Background(), "el paciente tiene fiebre")
	require.NoError(t, err)
	assert.Equal(t, "es", code)
}

func TestTranslate(t *testing.T) {
	t.Run("returns_translation", func(t *testing.T) {
		c := newClient(t, chatReply(t, "the patient has a fever"))
		tl, err := c.Translate(context.Background(), provider.TranslateRequest{
			Text:           "el paciente tiene fiebre",
			SourceLanguage: "es",
			TargetLanguage: "en",
		})
		require.NoError(t, err)
		assert.False(t, tl.Failed)
		assert.Equal(t, "the patient has a fever", tl.Text)
		assert.Equal(t, "es", tl.SourceLanguage)
		assert.Equal(t, "en", tl.TargetLanguage)
	})

	t.Run("empty_reply_is_soft_failure", func(t *testing.T) {
		c := newClient(t, chatReply(t, ""))
		tl, err := c.Translate(context.Background(), provider.TranslateRequest{
			Text:           "el paciente tiene fiebre",
			SourceLanguage: "es",
			TargetLanguage: "en",
		})
		require.NoError(t, err)
		assert.True(t, tl.Failed)
		assert.Equal(t, "empty translation", tl.ErrorMessage)
		assert.Empty(t, tl.Text)
	})
}

func TestGenerate_BuildsMessages(t *testing.T) {
	var got struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	handler := func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		chatReply(t, "Rest and drink water.")(w, r)
	}
	c := newClient(t, handler)

	answer, err := c.Generate(context.Background(), provider.GenerateRequest{
		Prompt: "I have a headache",
		System: "You are a careful medical assistant.",
		Context: []provider.ContextItem{
			{Content: "For mild headaches, rest in a quiet room."},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Rest and drink water.", answer)

	assert.Equal(t, openai.GPT4oMini, got.Model)
	assert.Equal(t, defaultMaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "You are a careful medical assistant.", got.Messages[0].Content)
	assert.Contains(t, got.Messages[1].Content, "- For mild headaches, rest in a quiet room.")
	assert.Equal(t, "user", got.Messages[2].Role)
	assert.Equal(t, "I have a headache", got.Messages[2].Content)
}

func TestSynthesize(t *testing.T) {
	t.Run("returns_audio", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/audio/speech", r.URL.Path)
			w.Header().Set("Content-Type", "audio/wav")
			_, _ = w.Write([]byte("RIFFsynth"))
		})
		sp, err := c.Synthesize(context.Background(), provider.SynthesizeRequest{
			Text:   "Please rest and stay hydrated.",
			Format: provider.FormatWAV,
		})
		require.NoError(t, err)
		assert.Equal(t, []byte("RIFFsynth"), sp.Audio)
		assert.Equal(t, provider.FormatWAV, sp.Format)
		assert.Equal(t, string(openai.VoiceAlloy), sp.Voice)
		assert.Equal(t, "openai-test", sp.Provider)
		assert.False(t, sp.Cached)
	})

	t.Run("requires_text", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		_, err := c.Synthesize(context.Background(), provider.SynthesizeRequest{})
		require.Error(t, err)
	})
}

func TestPing(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/models", r.URL.Path)
			writeJSON(t, w, map[string]any{
				"object": "list",
				"data":   []map[string]any{{"id": "gpt-4o-mini", "object": "model"}},
			})
		})
		assert.NoError(t, c.Ping(context.Background()))
	})

	t.Run("server_error", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			writeJSON(t, w, map[string]any{
				"error": map[string]any{"message": "boom", "type": "server_error"},
			})
		})
		assert.Error(t, c.Ping(context.Background()))
	})
}

func TestShortLanguage(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"English", "en"},
		{" SPANISH ", "es"},
		{"japanese", "ja"},
		{"en", "en"},
		{"", ""},
		{"klingon", "klingon"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, shortLanguage(tc.in), "shortLanguage(%q)", tc.in)
	}
}

func TestAudioExt(t *testing.T) {
	assert.Equal(t, "wav", audioExt(provider.FormatWAV))
	assert.Equal(t, "mp3", audioExt(provider.FormatMP3))
	assert.Equal(t, "ogg", audioExt(provider.FormatOGG))
	assert.Equal(t, "webm", audioExt(provider.FormatWEBM))
	assert.Equal(t, "wav", audioExt(provider.AudioFormat("")))
}

func TestSpeechFormat(t *testing.T) {
	rf, f := speechFormat(provider.FormatMP3)
	assert.Equal(t, openai.SpeechResponseFormatMp3, rf)
	assert.Equal(t, provider.FormatMP3, f)

	rf, f = speechFormat(provider.FormatOGG)
	assert.Equal(t, openai.SpeechResponseFormatOpus, rf)
	assert.Equal(t, provider.FormatOGG, f)

	rf, f = speechFormat(provider.AudioFormat(""))
	assert.Equal(t, openai.SpeechResponseFormatWav, rf)
	assert.Equal(t, provider.FormatWAV, f)
}

func TestConfidenceFromLogprobs(t *testing.T) {
	assert.Equal(t, defaultConfidence, confidenceFromLogprobs(nil))
	assert.InDelta(t, math.Exp(-0.25), confidenceFromLogprobs([]float64{-0.2, -0.3}), 1e-9)
	assert.Equal(t, 1.0, confidenceFromLogprobs([]float64{0.5}))
}
