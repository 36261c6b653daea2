// Package governance holds the compliance layer: PHI masking and the
// priority-ordered policy rules evaluated against every pipeline result.
package governance

import (
	"fmt"
	"regexp"
	"strings"
)

// Redacted prefixes every mask.
const Redacted = "[REDACTED]"

// PHIPattern is one labelled detector.
type PHIPattern struct {
	Label string
	Re    *regexp.Regexp
}

// DefaultPHIPatterns are applied in order; earlier labels win where
// patterns overlap, so an SSN-shaped number is masked as MRN.
var DefaultPHIPatterns = []PHIPattern{
	{"MRN", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b|\b\d{7,10}\b`)},
	{"SSN", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"PHONE", regexp.MustCompile(`\b(?:\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
	{"EMAIL", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)},
	{"DOB", regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`)},
	{"ZIP", regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`)},
}

// DefaultSensitiveKeys are the map keys MaskMap rewrites.
var DefaultSensitiveKeys = []string{"name", "address", "dob", "patient_id", "mrn", "content"}

// Deidentifier masks protected health information in text and records.
type Deidentifier struct {
	patterns      []PHIPattern
	sensitiveKeys map[string]bool
}

// NewDeidentifier uses the default patterns. Extra keys extend
// DefaultSensitiveKeys.
func NewDeidentifier(extraKeys ...string) *Deidentifier {
	d := &Deidentifier{patterns: DefaultPHIPatterns, sensitiveKeys: map[string]bool{}}
	for _, k := range append(append([]string{}, DefaultSensitiveKeys...), extraKeys...) {
		d.sensitiveKeys[strings.ToLower(k)] = true
	}
	return d
}

// Mask replaces each match with "[REDACTED] (PHI:LABEL)".
func (d *Deidentifier) Mask(text string) string {
	masked, _ := d.scan(text)
	return masked
}

// Detect counts the matches Mask would replace, per label.
func (d *Deidentifier) Detect(text string) map[string]int {
	_, counts := d.scan(text)
	return counts
}

// Count is the total number of PHI matches in text.
func (d *Deidentifier) Count(text string) int {
	var n int
	for _, c := range d.Detect(text) {
		n += c
	}
	return n
}

func (d *Deidentifier) scan(text string) (string, map[string]int) {
	counts := map[string]int{}
	for _, p := range d.patterns {
		matches := p.Re.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		counts[p.Label] = len(matches)
		text = p.Re.ReplaceAllLiteralString(text, fmt.Sprintf("%s (PHI:%s)", Redacted, p.Label))
	}
	return text, counts
}

// MaskMap returns a copy of data with string values under sensitive keys
// masked. Nested maps and maps inside lists are walked.
func (d *Deidentifier) MaskMap(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case string:
			if d.sensitiveKeys[strings.ToLower(k)] {
				out[k] = d.Mask(val)
			} else {
				out[k] = val
			}
		case map[string]any:
			out[k] = d.MaskMap(val)
		case []any:
			items := make([]any, len(val))
			for i, item := range val {
				if m, ok := item.(map[string]any); ok {
					items[i] = d.MaskMap(m)
				} else {
					items[i] = item
				}
			}
			out[k] = items
		default:
			out[k] = v
		}
	}
	return out
}
