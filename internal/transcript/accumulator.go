// Package transcript holds the growing session transcript.
package transcript

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// Separator is interposed between consecutive fragments.
const Separator = " "

// Accumulator appends final fragments in arrival order. A zero maxChars
// means the transcript grows without bound for the session's lifetime.
type Accumulator struct {
	mu        sync.Mutex
	text      string
	fragments int
	maxChars  int
}

// NewAccumulator creates an accumulator. When maxChars > 0 the oldest text
// is dropped, at a word boundary, to keep the transcript within maxChars.
func NewAccumulator(maxChars int) *Accumulator {
	if maxChars < 0 {
		maxChars = 0
	}
	return &Accumulator{maxChars: maxChars}
}

// Append adds fragment and returns the full accumulated text.
func (a *Accumulator) Append(fragment string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.fragments == 0 && a.text == "" {
		a.text = fragment
	} else {
		a.text = a.text + Separator + fragment
	}
	a.fragments++
	if a.maxChars > 0 && len(a.text) > a.maxChars {
		a.text = truncateHead(a.text, a.maxChars)
	}
	return a.text
}

// Text returns the accumulated transcript.
func (a *Accumulator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text
}

// Len returns the transcript length in bytes.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.text)
}

// Fragments returns how many fragments were appended since the last reset.
func (a *Accumulator) Fragments() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fragments
}

// Reset clears the transcript.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.text = ""
	a.fragments = 0
}

// truncateHead keeps at most limit trailing bytes of s, starting at the
// first word after the cut so no word is split.
func truncateHead(s string, limit int) string {
	cut := len(s) - limit
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	tail := s[cut:]
	if prev, _ := utf8.DecodeLastRuneInString(s[:cut]); cut > 0 && !unicode.IsSpace(prev) {
		if i := strings.IndexFunc(tail, unicode.IsSpace); i >= 0 {
			tail = tail[i:]
		} else {
			tail = ""
		}
	}
	return strings.TrimLeftFunc(tail, unicode.IsSpace)
}
