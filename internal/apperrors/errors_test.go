package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap_PreservesSentinel(t *testing.T) {
	err := Wrap(ErrCircuitOpen, "calling openai")

	assert.EqualError(t, err, "calling openai: circuit open")
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.False(t, errors.Is(err, ErrProviderTimeout))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "attempt %d", 3))
}

func TestWrapf_ChainsThroughLayers(t *testing.T) {
	inner := Wrapf(ErrProviderUnavailable, "provider %s", "whisper")
	outer := Wrap(inner, "transcription stage")

	assert.EqualError(t, outer, "transcription stage: provider whisper: provider unavailable")
	assert.True(t, errors.Is(outer, ErrProviderUnavailable))
}

func TestIs_MatchesByMessage(t *testing.T) {
	assert.True(t, errors.Is(New("boom"), New("boom")))
	assert.False(t, errors.Is(New("boom"), New("bang")))
	assert.False(t, errors.Is(New("boom"), errors.New("boom")), "plain errors never match")
}

func TestFieldHelpers(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"required_field", RequiredField("api key"), "api key is required"},
		{"invalid_field", InvalidField("priority", "must not be negative"), "priority is invalid: must not be negative"},
		{"not_found", NotFound("session", "visit-42"), "session not found: visit-42"},
		{"already_exists", AlreadyExists("provider", "transcription/whisper"), "provider already exists: transcription/whisper"},
		{"timeout", Timeout("synthesis", "5s"), "synthesis timeout after 5s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualError(t, tt.err, tt.want)
		})
	}
}
