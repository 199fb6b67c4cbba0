package chatbox

import "sync"

type Transcript struct {
	LastFinalSourceText     string
	LastFinalTranslatedText string
	// LastFinalUntranslated is set when the line fell back to its source
	// text after a failed translation.
	LastFinalUntranslated bool
}

// TranscriptState remembers the previous finalized line so the next one
// can be shown beneath it. It outlives individual recognition sessions.
type TranscriptState struct {
	mu      sync.RWMutex
	current Transcript
}

func (s *TranscriptState) Snapshot() Transcript {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *TranscriptState) update(source, translated string) {
	s.set(Transcript{LastFinalSourceText: source, LastFinalTranslatedText: translated})
}

func (s *TranscriptState) set(t Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = t
}

func (s *TranscriptState) Reset() {
	s.set(Transcript{})
}
