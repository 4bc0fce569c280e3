// Package out defines outbound ports (driven ports) for the application.
// These interfaces represent dependencies that the core needs.
package out

import "context"

// LLMGateway wraps the language-model call. Implementations impose a
// bounded timeout; a timeout surfaces as an error like any other
// transport failure so call sites take their fallback path.
type LLMGateway interface {
	// Complete returns free-form text for the prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteJSON returns a response constrained to a JSON object.
	// Callers still validate the decoded structure; a non-conforming
	// payload is handled like a call failure.
	CompleteJSON(ctx context.Context, prompt string) (string, error)

	// IsConfigured reports whether the gateway has usable credentials.
	// An unconfigured gateway is not an error, fallback paths cover it.
	IsConfigured() bool
}
