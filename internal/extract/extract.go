// Package extract pulls the delimited diagnoses and follow-up questions
// sections out of a language model response.
package extract

import (
	"regexp"
	"strings"
)

const (
	NoDiagnoses = "No diagnoses found"
	NoQuestions = "No questions found"
)

var (
	diagnosesPattern = regexp.MustCompile(`(?s)\$\$\$(.*?)\$\$\$`)
	questionsPattern = regexp.MustCompile(`(?s)!!!(.*?)!!!`)
)

// Result holds both extracted sections. Each field falls back to its
// sentinel when the model omitted the section.
type Result struct {
	Diagnoses string
	Questions string
}

// Parse extracts the first $$$-delimited and the first !!!-delimited
// sections of raw. The text is forwarded verbatim apart from trimming.
func Parse(raw string) Result {
	return Result{
		Diagnoses: section(diagnosesPattern, raw, NoDiagnoses),
		Questions: section(questionsPattern, raw, NoQuestions),
	}
}

func section(re *regexp.Regexp, raw, fallback string) string {
	m := re.FindStringSubmatch(raw)
	if m == nil {
		return fallback
	}
	return strings.TrimSpace(m[1])
}
