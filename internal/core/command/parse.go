// Package command implements the shared chat-command surface: one parser and
// one dispatcher used by every COMMAND component.
package command

import (
	"fmt"
	"strings"

	"github.com/lorikeet-ai/lorikeet/internal/core/envelope"
	"github.com/lorikeet-ai/lorikeet/internal/core/plugin"
)

const (
	// Prefix marks a regular command message.
	Prefix = "/"

	// PlusPrefix marks a plus command, which runs without consuming the
	// message (the reply pipeline still sees it).
	PlusPrefix = "+"
)

// Parsed is one recognized command line.
type Parsed struct {
	Verb string
	Args []string

	// Plus is true for the non-consuming prefix.
	Plus bool
}

// Parse recognizes a command line in text. Non-command text returns ok=false.
// Arguments split on whitespace; double quotes group words and may contain
// escaped quotes.
func Parse(text string) (Parsed, bool) {
	trimmed := strings.TrimSpace(text)
	var plus bool
	switch {
	case strings.HasPrefix(trimmed, Prefix):
		trimmed = trimmed[len(Prefix):]
	case strings.HasPrefix(trimmed, PlusPrefix):
		trimmed = trimmed[len(PlusPrefix):]
		plus = true
	default:
		return Parsed{}, false
	}

	tokens := tokenize(trimmed)
	if len(tokens) == 0 || tokens[0] == "" {
		return Parsed{}, false
	}
	return Parsed{Verb: strings.ToLower(tokens[0]), Args: tokens[1:], Plus: plus}, true
}

func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	inQuote := false
	escaped := false
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && inQuote:
			escaped = true
		case r == '"':
			if inQuote {
				// A closing quote ends the token even when empty.
				tokens = append(tokens, cur.String())
				cur.Reset()
				inQuote = false
			} else {
				flush()
				inQuote = true
			}
		case (r == ' ' || r == '\t' || r == '\n') && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// ValidateArgs checks the parsed arguments against a command's spec.
func ValidateArgs(spec []plugin.ArgDef, args []string) error {
	required := 0
	for _, a := range spec {
		if a.Required {
			required++
		}
	}
	if len(args) < required {
		missing := spec[len(args)]
		return fmt.Errorf("missing required argument %q", missing.Name)
	}
	return nil
}

// Usage renders a one-line usage string from a verb and its spec.
func Usage(verb string, spec []plugin.ArgDef) string {
	var b strings.Builder
	b.WriteString(Prefix)
	b.WriteString(verb)
	for _, a := range spec {
		if a.Required {
			fmt.Fprintf(&b, " <%s>", a.Name)
		} else {
			fmt.Fprintf(&b, " [%s]", a.Name)
		}
	}
	return b.String()
}

// Invocation builds the component-facing invocation from a parsed line.
func Invocation(p Parsed, e *envelope.Envelope) *plugin.CommandInvocation {
	return &plugin.CommandInvocation{
		Verb:     p.Verb,
		Args:     p.Args,
		Envelope: e,
		StreamID: e.StreamID(),
	}
}
