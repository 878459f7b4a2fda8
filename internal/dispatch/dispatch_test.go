package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// fakeProvider is a scriptable in-memory provider.
type fakeProvider struct {
	name     string
	supports bool
	output   string
	err      error
	delay    time.Duration
	calls    int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Supports(Operation) bool { return p.supports }

func (p *fakeProvider) Do(ctx context.Context, _ Operation, _ Input) (string, error) {
	p.calls++
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.delay):
		}
	}
	return p.output, p.err
}

func TestDispatchFirstSuccessShortCircuits(t *testing.T) {
	first := &fakeProvider{name: "a", supports: true, output: "hello"}
	second := &fakeProvider{name: "b", supports: true, output: "unused"}
	d := NewDispatcher([]Provider{first, second})

	result, errDispatch := d.Dispatch(context.Background(), OpTranslate, Input{Text: "hi"}, "a", []string{"b"})
	if errDispatch != nil {
		t.Fatalf("dispatch: %v", errDispatch)
	}
	if result.Provider != "a" || result.Output != "hello" {
		t.Fatalf("unexpected result %+v", result)
	}
	if second.calls != 0 {
		t.Fatalf("fallback must not run after a success, ran %d times", second.calls)
	}
}

func TestDispatchFallsBackInOrder(t *testing.T) {
	first := &fakeProvider{name: "a", supports: true, err: errors.New("boom")}
	second := &fakeProvider{name: "b", supports: true, err: errors.New("boom too")}
	third := &fakeProvider{name: "c", supports: true, output: "ok"}
	d := NewDispatcher([]Provider{first, second, third})

	result, errDispatch := d.Dispatch(context.Background(), OpTranslate, Input{}, "a", []string{"b", "c"})
	if errDispatch != nil {
		t.Fatalf("dispatch: %v", errDispatch)
	}
	if result.Provider != "c" {
		t.Fatalf("expected provider c, got %s", result.Provider)
	}
	if first.calls != 1 || second.calls != 1 || third.calls != 1 {
		t.Fatalf("each provider must be tried once in order: %d/%d/%d", first.calls, second.calls, third.calls)
	}
}

func TestDispatchAllFailed(t *testing.T) {
	last := errors.New("final failure")
	first := &fakeProvider{name: "a", supports: true, err: errors.New("boom")}
	second := &fakeProvider{name: "b", supports: true, err: last}
	d := NewDispatcher([]Provider{first, second})

	_, errDispatch := d.Dispatch(context.Background(), OpImageOCR, Input{}, "a", []string{"b"})
	var allFailed *AllFailedError
	if !errors.As(errDispatch, &allFailed) {
		t.Fatalf("expected AllFailedError, got %v", errDispatch)
	}
	if len(allFailed.Attempted) != 2 || allFailed.Attempted[0] != "a" || allFailed.Attempted[1] != "b" {
		t.Fatalf("attempted order wrong: %v", allFailed.Attempted)
	}
	if !errors.Is(errDispatch, last) {
		t.Fatalf("AllFailedError must wrap the last error")
	}
}

func TestDispatchSkipsUnknownAndUnsupported(t *testing.T) {
	unsupported := &fakeProvider{name: "deaf", supports: false}
	working := &fakeProvider{name: "c", supports: true, output: "ok"}
	d := NewDispatcher([]Provider{unsupported, working})

	result, errDispatch := d.Dispatch(context.Background(), OpPDFExtract, Input{}, "ghost", []string{"deaf", "c"})
	if errDispatch != nil {
		t.Fatalf("dispatch: %v", errDispatch)
	}
	if result.Provider != "c" {
		t.Fatalf("expected provider c, got %s", result.Provider)
	}
	if unsupported.calls != 0 {
		t.Fatalf("unsupported provider must not be invoked")
	}
}

func TestDispatchEmptyOutputTriggersFallback(t *testing.T) {
	empty := &fakeProvider{name: "a", supports: true, output: "   "}
	working := &fakeProvider{name: "b", supports: true, output: "text"}
	d := NewDispatcher([]Provider{empty, working})

	result, errDispatch := d.Dispatch(context.Background(), OpTranslate, Input{}, "a", []string{"b"})
	if errDispatch != nil {
		t.Fatalf("dispatch: %v", errDispatch)
	}
	if result.Provider != "b" {
		t.Fatalf("blank output must count as failure, got provider %s", result.Provider)
	}
}

func TestDispatchDeduplicatesPrimaryInFallbacks(t *testing.T) {
	failing := &fakeProvider{name: "a", supports: true, err: errors.New("boom")}
	d := NewDispatcher([]Provider{failing})

	_, errDispatch := d.Dispatch(context.Background(), OpTranslate, Input{}, "a", []string{"a", "a"})
	var allFailed *AllFailedError
	if !errors.As(errDispatch, &allFailed) {
		t.Fatalf("expected AllFailedError, got %v", errDispatch)
	}
	if failing.calls != 1 {
		t.Fatalf("primary repeated in fallbacks must run once, ran %d times", failing.calls)
	}
}

func TestDispatchPerAttemptTimeout(t *testing.T) {
	slow := &fakeProvider{name: "slow", supports: true, output: "late", delay: 200 * time.Millisecond}
	fast := &fakeProvider{name: "fast", supports: true, output: "quick"}
	d := NewDispatcher([]Provider{slow, fast}, WithTimeout(20*time.Millisecond))

	result, errDispatch := d.Dispatch(context.Background(), OpTranslate, Input{}, "slow", []string{"fast"})
	if errDispatch != nil {
		t.Fatalf("dispatch: %v", errDispatch)
	}
	if result.Provider != "fast" {
		t.Fatalf("timed-out primary must fall back, got %s", result.Provider)
	}
}

func TestDispatchStopsWhenCallerContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	failing := &fakeProvider{name: "a", supports: true, err: fmt.Errorf("boom")}
	next := &fakeProvider{name: "b", supports: true, output: "ok"}
	d := NewDispatcher([]Provider{failing, next})

	cancel()
	_, errDispatch := d.Dispatch(ctx, OpTranslate, Input{}, "a", []string{"b"})
	var allFailed *AllFailedError
	if !errors.As(errDispatch, &allFailed) {
		t.Fatalf("expected AllFailedError, got %v", errDispatch)
	}
	if next.calls != 0 {
		t.Fatalf("chain must stop after caller cancellation")
	}
}
