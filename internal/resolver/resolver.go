// Package resolver turns raw reference strings into fetchable URLs by
// dispatching to the first registered Resolver that claims the input.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vrsandeep/citefetch/internal/models"
)

// Priority orders resolvers. Lower values are consulted first.
type Priority int

const (
	// Specialized resolvers recognise one site or identifier scheme.
	Specialized Priority = iota
	// General resolvers handle a broad identifier family such as DOIs.
	General
	// Fallback resolvers accept whatever is left.
	Fallback
)

func (p Priority) String() string {
	switch p {
	case Specialized:
		return "specialized"
	case General:
		return "general"
	case Fallback:
		return "fallback"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Resolved is the outcome of a successful resolution.
type Resolved struct {
	URL        string
	SourceType string
	Metadata   models.ItemMetadata
	// Resolver is the name of the resolver that produced this result.
	Resolver string
}

// Resolver maps a raw input to a download URL.
type Resolver interface {
	Name() string
	Priority() Priority
	CanResolve(input string) bool
	Resolve(ctx context.Context, input string) (*Resolved, error)
}

// ErrNoResolver is returned when no registered resolver accepts the input.
var ErrNoResolver = errors.New("no resolver accepts input")

// ErrorKind classifies resolution failures.
type ErrorKind int

const (
	NeedsAuth ErrorKind = iota + 1
	NotFound
	ParseError
)

func (k ErrorKind) String() string {
	switch k {
	case NeedsAuth:
		return "needs auth"
	case NotFound:
		return "not found"
	case ParseError:
		return "parse error"
	}
	return "unknown"
}

// ResolveError is a resolution failure reported by a resolver.
type ResolveError struct {
	Kind     ErrorKind
	Resolver string
	Input    string
	Err      error
}

func (e *ResolveError) Error() string {
	msg := fmt.Sprintf("%s: %s for %q", e.Resolver, e.Kind, e.Input)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// ErrorType maps the kind to the error type recorded in history.
func (e *ResolveError) ErrorType() models.ErrorType {
	switch e.Kind {
	case NeedsAuth:
		return models.ErrorAuth
	case NotFound:
		return models.ErrorNotFound
	default:
		return models.ErrorParse
	}
}

// ErrorTypeOf returns the history error type for a Resolve failure.
func ErrorTypeOf(err error) models.ErrorType {
	var re *ResolveError
	if errors.As(err, &re) {
		return re.ErrorType()
	}
	if errors.Is(err, ErrNoResolver) {
		return models.ErrorNoResolver
	}
	return models.ErrorNetwork
}

// normalizeInput trims whitespace and surrounding angle brackets that often
// wrap URLs pasted from email or markdown.
func normalizeInput(input string) string {
	input = strings.TrimSpace(input)
	input = strings.TrimPrefix(input, "<")
	input = strings.TrimSuffix(input, ">")
	return strings.TrimSpace(input)
}
