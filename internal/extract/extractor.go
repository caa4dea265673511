// Package extract recovers a structured JSON payload from raw model output.
//
// Reasoning models prefix their answer with a thinking section closed by
// ThinkMarker and often wrap the JSON in Markdown fences. Extract strips both,
// decodes the remainder into the caller's payload type, and validates it with
// the payload's struct tags.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// ThinkMarker closes the reasoning section of a model response.
const ThinkMarker = "</think>"

// maxFragment bounds the diagnostic fragment attached to an ExtractionError.
const maxFragment = 512

// Kind classifies an extraction failure.
type Kind int

const (
	KindEmpty Kind = iota + 1
	KindParse
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindParse:
		return "parse"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// ExtractionError reports a model response that did not yield a valid payload.
type ExtractionError struct {
	Kind     Kind
	Fragment string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("extraction %s failure", e.Kind)
	}
	return fmt.Sprintf("extraction %s failure: %v", e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IsParse reports whether err is an extraction failure on malformed JSON.
func IsParse(err error) bool {
	return kindOf(err) == KindParse
}

// IsValidation reports whether err is an extraction failure on a payload
// that decoded but did not match its schema.
func IsValidation(err error) bool {
	return kindOf(err) == KindValidation
}

func kindOf(err error) Kind {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return 0
}

// Extractor decodes model responses. The zero value is not usable; use New.
type Extractor struct {
	logger *slog.Logger
}

// New returns an Extractor that logs through logger, or slog.Default() if nil.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract decodes the JSON payload in raw into dst and validates it.
// dst must be a non-nil pointer.
func (e *Extractor) Extract(raw string, dst any) error {
	body := e.payloadText(raw)
	if body == "" {
		return &ExtractionError{Kind: KindEmpty, Err: errors.New("no payload after reasoning marker")}
	}

	if err := json.Unmarshal([]byte(body), dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &ExtractionError{Kind: KindValidation, Fragment: fragment(body), Err: err}
		}
		return &ExtractionError{Kind: KindParse, Fragment: fragment(body), Err: err}
	}

	if err := Validate(dst); err != nil {
		return &ExtractionError{Kind: KindValidation, Fragment: fragment(body), Err: err}
	}
	return nil
}

// payloadText returns the trimmed text after the last reasoning marker with
// any surrounding Markdown code fence removed.
func (e *Extractor) payloadText(raw string) string {
	text := raw
	if idx := strings.LastIndex(raw, ThinkMarker); idx >= 0 {
		text = raw[idx+len(ThinkMarker):]
	} else {
		e.logger.Warn("reasoning marker not found in model response, using whole text", "length", len(raw))
	}
	return stripFence(strings.TrimSpace(text))
}

func stripFence(s string) string {
	switch {
	case strings.HasPrefix(s, "```json"):
		s = s[len("```json"):]
	case strings.HasPrefix(s, "```"):
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// fragment cuts s to at most maxFragment bytes on a rune boundary.
func fragment(s string) string {
	if len(s) <= maxFragment {
		return s
	}
	end := maxFragment
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}

// Answer returns the free-text answer in raw: the text after the last
// reasoning marker, trimmed. Raw without a marker is returned trimmed.
func Answer(raw string) string {
	if idx := strings.LastIndex(raw, ThinkMarker); idx >= 0 {
		raw = raw[idx+len(ThinkMarker):]
	}
	return strings.TrimSpace(raw)
}
