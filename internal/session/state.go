package session

import (
	"github.com/samber/lo"

	"medvoice/internal/pipeline"
)

// State is where a session currently sits in its turn. Exactly one state is
// current per session; a turn only moves forward and ends back at idle.
type State string

const (
	StateIdle           State = "idle"
	StateListeningAudio State = "listening_audio"
	StateTranscribing   State = "transcribing"
	StateThinking       State = "thinking"
	StateSynthesizing   State = "synthesizing"
	StateSpeaking       State = "speaking"
	StateError          State = "error"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateIdle, StateListeningAudio, StateTranscribing, StateThinking,
		StateSynthesizing, StateSpeaking, StateError:
		return true
	}
	return false
}

// next lists the legal moves. Stages a turn skips stay legal as forward
// jumps: an empty transcript goes straight from transcribing to speaking, a
// generation failure answers from thinking. Error is reachable from any
// state and only ever resets to idle.
var next = map[State][]State{
	StateIdle:           {StateListeningAudio, StateError},
	StateListeningAudio: {StateTranscribing, StateError},
	StateTranscribing:   {StateThinking, StateSpeaking, StateError},
	StateThinking:       {StateSynthesizing, StateSpeaking, StateError},
	StateSynthesizing:   {StateSpeaking, StateError},
	StateSpeaking:       {StateIdle, StateError},
	StateError:          {StateIdle},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to State) bool {
	return lo.Contains(next[from], to)
}

// stageState maps an orchestrator stage onto the session state it drives.
// Everything between transcription and synthesis is thinking.
func stageState(stage string) State {
	switch stage {
	case pipeline.StageTranscription:
		return StateTranscribing
	case pipeline.StageSynthesis:
		return StateSynthesizing
	default:
		return StateThinking
	}
}
