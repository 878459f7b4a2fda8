// Package dispatch executes one logical operation against a named provider,
// falling back through an ordered list of alternates on failure.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Operation is a logical vendor capability.
type Operation string

// Dispatchable operations.
const (
	OpTranslate    Operation = "translate"
	OpImageOCR     Operation = "image-ocr"
	OpPDFExtract   Operation = "pdf-extract"
	OpSpeechToText Operation = "speech-to-text"
	OpVideoOCR     Operation = "video-ocr"
)

// Input carries the operation payload. Exactly which fields matter depends
// on the operation; providers must not mutate it.
type Input struct {
	Text           string // Source text for translation.
	TargetLanguage string // Target language for translation.
	ImageBase64    string // Base64 image payload for OCR.
	FileBase64     string // Base64 file payload for PDF extraction.
	Filename       string // Original filename for PDF extraction.
	MediaURL       string // Publicly reachable URL for speech/video jobs.
	AudioBase64    string // Base64 audio payload for short speech jobs.
}

// Result is a successful dispatch outcome.
type Result struct {
	Output   string // Extracted or translated text.
	Provider string // Name of the provider that produced the output.
}

// Provider is an opaque vendor capability.
type Provider interface {
	// Name returns the provider identifier (e.g. "deepseek", "tencent").
	Name() string
	// Supports reports whether the provider can handle the operation.
	Supports(op Operation) bool
	// Do performs the operation. An empty output is treated as a failure by
	// the dispatcher.
	Do(ctx context.Context, op Operation, input Input) (string, error)
}

// Dispatch errors.
var (
	// ErrUnknownProvider indicates a requested provider is not registered.
	ErrUnknownProvider = errors.New("dispatch: unknown provider")
	// ErrUnsupportedOperation indicates the provider cannot handle the operation.
	ErrUnsupportedOperation = errors.New("dispatch: operation not supported by provider")
)

// AllFailedError reports that every provider in the chain failed. It carries
// the last attempt's error.
type AllFailedError struct {
	Op        Operation
	Attempted []string
	Last      error
}

func (e *AllFailedError) Error() string {
	return fmt.Sprintf("dispatch: %s failed on all providers [%s]: %v", e.Op, strings.Join(e.Attempted, ", "), e.Last)
}

func (e *AllFailedError) Unwrap() error {
	return e.Last
}

// Dispatcher tries providers strictly in the caller-supplied order and
// short-circuits on the first success. It never reorders based on past
// results, keeping behavior deterministic.
type Dispatcher struct {
	providers map[string]Provider
	timeout   time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

// NewDispatcher constructs a Dispatcher over the given providers.
func NewDispatcher(providers []Provider, opts ...Option) *Dispatcher {
	provMap := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		provMap[p.Name()] = p
	}
	d := &Dispatcher{
		providers: provMap,
		timeout:   45 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Has reports whether a provider name is registered.
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.providers[name]
	return ok
}

// Dispatch runs op against the primary provider, then each fallback in
// order, returning the first successful result. If every attempt fails the
// returned error is an *AllFailedError wrapping the last attempt's error.
func (d *Dispatcher) Dispatch(ctx context.Context, op Operation, input Input, primary string, fallbacks []string) (Result, error) {
	chain := make([]string, 0, 1+len(fallbacks))
	chain = append(chain, primary)
	for _, name := range fallbacks {
		if name != primary {
			chain = append(chain, name)
		}
	}

	attempted := make([]string, 0, len(chain))
	var lastErr error
	for _, name := range chain {
		provider, ok := d.providers[name]
		if !ok {
			lastErr = fmt.Errorf("%w: %s", ErrUnknownProvider, name)
			attempted = append(attempted, name)
			continue
		}
		if !provider.Supports(op) {
			lastErr = fmt.Errorf("%w: %s/%s", ErrUnsupportedOperation, name, op)
			attempted = append(attempted, name)
			continue
		}

		attempted = append(attempted, name)
		output, errDo := d.attempt(ctx, provider, op, input)
		if errDo == nil {
			return Result{Output: output, Provider: name}, nil
		}
		lastErr = errDo
		log.WithError(errDo).Warnf("dispatch: provider %s failed for %s, %d left in chain", name, op, len(chain)-len(attempted))

		if ctx.Err() != nil {
			break
		}
	}

	return Result{}, &AllFailedError{Op: op, Attempted: attempted, Last: lastErr}
}

// attempt runs a single provider call under the per-attempt timeout. Empty
// output counts as failure so a malformed vendor response triggers fallback.
func (d *Dispatcher) attempt(ctx context.Context, provider Provider, op Operation, input Input) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	output, errDo := provider.Do(attemptCtx, op, input)
	if errDo != nil {
		return "", errDo
	}
	if strings.TrimSpace(output) == "" {
		return "", fmt.Errorf("dispatch: provider %s returned empty result", provider.Name())
	}
	return output, nil
}
