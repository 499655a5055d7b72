package pipeline

import (
	"fmt"
	"regexp"

	"github.com/faultline-io/faultline/event"
)

// Scrubber redacts token-like material from a record before anything
// downstream copies it: message, tag values, extras, breadcrumbs.
type Scrubber struct {
	patterns []*regexp.Regexp
	redacted string
}

// NewScrubber creates a scrubber with the default patterns plus any extra
// expressions from configuration.
func NewScrubber(extra []string) (*Scrubber, error) {
	s := &Scrubber{
		patterns: defaultScrubPatterns(),
		redacted: "[REDACTED]",
	}
	for _, p := range extra {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("scrub pattern %q: %w", p, err)
		}
		s.patterns = append(s.patterns, re)
	}
	return s, nil
}

func defaultScrubPatterns() []*regexp.Regexp {
	patterns := []string{
		// Vendor-prefixed API keys
		`sk-[A-Za-z0-9]{20,}`,
		`sk-ant-[a-zA-Z0-9-]{40,}`,
		`AIza[a-zA-Z0-9_-]{35}`,
		// GitHub tokens
		`gh[pous]_[A-Za-z0-9]{36}`,
		// AWS
		`AKIA[0-9A-Z]{16}`,
		`(?i)aws[_-]?secret[_-]?access[_-]?key["'\s:=]+[A-Za-z0-9/+=]{40}`,
		// Slack
		`xox[baprs]-[0-9a-zA-Z-]{10,}`,
		// Generic credential shapes
		`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
		`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		`(?i)secret["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		`(?i)password["'\s:=]+[^\s"']{8,}`,
		`(?i)token["'\s:=]+[a-zA-Z0-9_-]{20,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Name implements Processor.
func (s *Scrubber) Name() string { return "scrub" }

// Process implements Processor.
func (s *Scrubber) Process(rec *event.Record, cx *Context) *event.Record {
	rec.Message = s.redact(rec.Message)

	for k, v := range rec.Tags {
		rec.Tags[k] = s.redact(v)
	}
	for k, v := range rec.Extra {
		rec.Extra[k] = s.redactValue(v)
	}
	for i := range rec.Breadcrumbs {
		bc := &rec.Breadcrumbs[i]
		bc.Message = s.redact(bc.Message)
		for k, v := range bc.Data {
			bc.Data[k] = s.redact(v)
		}
	}
	return rec
}

func (s *Scrubber) redact(input string) string {
	result := input
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}

func (s *Scrubber) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return s.redact(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = s.redactValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = s.redactValue(inner)
		}
		return out
	default:
		return v
	}
}
