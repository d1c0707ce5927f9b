package clips

import (
	"encoding/binary"
	"sort"
	"strings"
	"sync"

	"medvoice/internal/provider"
)

// Clip is a pre-rendered spoken response served when live synthesis is
// unavailable or over budget.
type Clip struct {
	Name   string               `json:"name"`
	Text   string               `json:"text"`
	Audio  []byte               `json:"-"`
	Format provider.AudioFormat `json:"format"`
}

// Well-known clip names the pipeline asks for.
const (
	NameClarification = "clarification"
	NameUnavailable   = "unavailable"
	NameError         = "error"
)

// Store serves cached clips by name. Implementations load their content up
// front; lookups never touch the network.
type Store interface {
	Clip(name string) (Clip, bool)
	Names() []string
}

// StaticStore holds a fixed clip set in memory.
type StaticStore struct {
	mu    sync.RWMutex
	clips map[string]Clip
}

func NewStaticStore(clips ...Clip) *StaticStore {
	s := &StaticStore{clips: make(map[string]Clip, len(clips))}
	for _, c := range clips {
		s.clips[c.Name] = c
	}
	return s
}

// DefaultStatic carries the built-in fallback phrases with short silent
// placeholders, enough to keep a degraded turn speaking something.
func DefaultStatic() *StaticStore {
	return NewStaticStore(
		Clip{
			Name:   NameClarification,
			Text:   "I did not catch that. Could you please repeat?",
			Audio:  SilentWAV(600),
			Format: provider.FormatWAV,
		},
		Clip{
			Name:   NameUnavailable,
			Text:   "I am having trouble responding right now. Please try again in a moment.",
			Audio:  SilentWAV(800),
			Format: provider.FormatWAV,
		},
		Clip{
			Name:   NameError,
			Text:   "Something went wrong on my side. Please try again.",
			Audio:  SilentWAV(600),
			Format: provider.FormatWAV,
		},
	)
}

func (s *StaticStore) Clip(name string) (Clip, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clips[name]
	return c, ok
}

func (s *StaticStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.clips))
	for name := range s.clips {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Put adds or replaces a clip.
func (s *StaticStore) Put(c Clip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clips[c.Name] = c
}

// SilentWAV renders ms milliseconds of 16-bit mono silence at 8 kHz as a
// complete RIFF/WAVE file.
func SilentWAV(ms int) []byte {
	const (
		sampleRate    = 8000
		bitsPerSample = 16
		channels      = 1
	)
	samples := sampleRate * ms / 1000
	dataLen := samples * channels * bitsPerSample / 8

	buf := make([]byte, 44+dataLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], sampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], sampleRate*channels*bitsPerSample/8)
	binary.LittleEndian.PutUint16(buf[32:34], channels*bitsPerSample/8)
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	return buf
}

// FormatFromName maps a file extension to an audio format. Unknown
// extensions report false.
func FormatFromName(name string) (provider.AudioFormat, bool) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return "", false
	}
	switch strings.ToLower(name[idx+1:]) {
	case "wav":
		return provider.FormatWAV, true
	case "mp3":
		return provider.FormatMP3, true
	case "ogg":
		return provider.FormatOGG, true
	case "webm":
		return provider.FormatWEBM, true
	case "pcm":
		return provider.FormatPCM, true
	default:
		return "", false
	}
}
