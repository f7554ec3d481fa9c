// A mock resolver for development and testing purposes. It resolves
// "mock:" inputs to predictable URLs without making network calls.
package mockresolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/vrsandeep/citefetch/internal/models"
	"github.com/vrsandeep/citefetch/internal/resolver"
)

// Prefix marks inputs this resolver accepts.
const Prefix = "mock:"

// Inputs that trigger a failure instead of a result.
const (
	InputNeedsAuth = Prefix + "auth"
	InputNotFound  = Prefix + "missing"
)

type MockResolver struct {
	name     string
	priority resolver.Priority
	// BaseURL is prepended to the resolved path.
	BaseURL string
	// Calls counts Resolve invocations.
	Calls int
}

func New(name string, priority resolver.Priority) *MockResolver {
	return &MockResolver{name: name, priority: priority, BaseURL: "https://mock.example"}
}

func (m *MockResolver) Name() string                { return m.name }
func (m *MockResolver) Priority() resolver.Priority { return m.priority }

func (m *MockResolver) CanResolve(input string) bool {
	return strings.HasPrefix(input, Prefix)
}

func (m *MockResolver) Resolve(_ context.Context, input string) (*resolver.Resolved, error) {
	m.Calls++
	switch input {
	case InputNeedsAuth:
		return nil, &resolver.ResolveError{Kind: resolver.NeedsAuth, Resolver: m.name, Input: input}
	case InputNotFound:
		return nil, &resolver.ResolveError{Kind: resolver.NotFound, Resolver: m.name, Input: input}
	}
	id := strings.TrimPrefix(input, Prefix)
	return &resolver.Resolved{
		URL:        fmt.Sprintf("%s/%s.pdf", strings.TrimSuffix(m.BaseURL, "/"), id),
		SourceType: models.SourceDirectURL,
		Metadata:   models.ItemMetadata{Title: "Mock paper " + id},
	}, nil
}
