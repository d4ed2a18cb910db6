package translator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrLengthMismatch means a provider returned a different number of
	// segments than it was sent.
	ErrLengthMismatch = errors.New("translation count does not match segment count")
	// ErrUnsupported means the provider cannot perform the operation.
	ErrUnsupported = errors.New("operation not supported by provider")
	// ErrMissingCredentials means the provider has no API key or credentials.
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrPlaceholderLost means a machine translation engine dropped or
	// altered a glossary marker.
	ErrPlaceholderLost = errors.New("glossary placeholder lost in translation")
)

// ErrorKind tells the orchestrator whether a failed request may be retried.
type ErrorKind int

const (
	Transient ErrorKind = iota
	Permanent
)

func (k ErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// ProviderError is the only error type providers return from Translate and
// ExtractTerminology.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a ProviderError worth retrying.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == Transient
}

func transient(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: Transient, Err: err}
}

func permanent(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: Permanent, Err: err}
}

// statusError classifies an unsuccessful HTTP status. Timeouts, rate limits
// and server errors are transient, other client errors permanent.
func statusError(provider string, status int, err error) *ProviderError {
	kind := Permanent
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooEarly, status == http.StatusTooManyRequests:
		kind = Transient
	case status >= 500:
		kind = Transient
	}
	return &ProviderError{Provider: provider, Kind: kind, StatusCode: status, Err: err}
}

// transportError classifies a failed round trip. Network failures are
// transient; a cancelled caller context is permanent since a retry would
// fail the same way.
func transportError(ctx context.Context, provider string, err error) *ProviderError {
	if ctx.Err() != nil {
		return permanent(provider, fmt.Errorf("request failed: %w", err))
	}
	return transient(provider, fmt.Errorf("request failed: %w", err))
}
