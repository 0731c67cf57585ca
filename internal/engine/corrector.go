package engine

import (
	"regexp"
	"strings"

	"github.com/mattjoyce/transcriptd/internal/log"
)

// Corrector is an opaque best-effort text transform applied to the
// joined transcript. Implementations must never fail the run; any
// internal problem returns the input unchanged.
type Corrector interface {
	Correct(text string) string
}

// NopCorrector returns text untouched.
type NopCorrector struct{}

func (NopCorrector) Correct(text string) string { return text }

var (
	spaceBeforePunct = regexp.MustCompile(`\s+([.,;:!?])`)
	repeatedSpaces   = regexp.MustCompile(`[ \t]{2,}`)
)

// PunctuationCorrector normalizes recognizer spacing artifacts:
// doubled spaces and stray gaps before punctuation.
type PunctuationCorrector struct{}

func (PunctuationCorrector) Correct(text string) (out string) {
	out = text
	defer func() {
		if r := recover(); r != nil {
			log.WithComponent("engine").Warn("text correction panicked", "cause", r)
		}
	}()
	cleaned := repeatedSpaces.ReplaceAllString(text, " ")
	cleaned = spaceBeforePunct.ReplaceAllString(cleaned, "$1")
	return strings.TrimSpace(cleaned)
}
