package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{400, KindBadRequest},
		{401, KindAuth},
		{403, KindAuth},
		{404, KindNotFound},
		{408, KindTimeout},
		{429, KindRateLimited},
		{500, KindUnavailable},
		{503, KindUnavailable},
		{200, ""},
	}
	for _, tc := range cases {
		if got := classifyStatus(tc.status); got != tc.want {
			t.Errorf("classifyStatus(%d) = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestClassifyMessages(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{errors.New("429 Too Many Requests"), KindRateLimited},
		{errors.New("invalid api key provided"), KindAuth},
		{errors.New("model not found"), KindNotFound},
		{errors.New("request timeout"), KindTimeout},
		{context.DeadlineExceeded, KindTimeout},
		{errors.New("connection refused"), KindUnavailable},
		{errors.New("something entirely new"), KindUnavailable},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestClassifyPrefersStructuredError(t *testing.T) {
	inner := NewError("openai", "gpt-4o", errors.New("boom")).WithKind(KindBadRequest)
	wrapped := fmt.Errorf("request failed: %w", inner)
	if got := Classify(wrapped); got != KindBadRequest {
		t.Errorf("Classify = %q, want %q", got, KindBadRequest)
	}
}

func TestRetryable(t *testing.T) {
	retryable := []Kind{KindUnavailable, KindRateLimited, KindTimeout}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("%q should be retryable", k)
		}
	}
	terminal := []Kind{KindBadRequest, KindAuth, KindNotFound, KindConfig, KindInvalidResponse, KindNotImplemented}
	for _, k := range terminal {
		if k.Retryable() {
			t.Errorf("%q should not be retryable", k)
		}
	}
}

func TestWithStatusReclassifies(t *testing.T) {
	err := NewError("anthropic", "claude-sonnet-4-5", errors.New("api error")).WithStatus(429)
	if err.Kind != KindRateLimited {
		t.Errorf("Kind = %q, want %q", err.Kind, KindRateLimited)
	}
	if err.Status != 429 {
		t.Errorf("Status = %d, want 429", err.Status)
	}
}

func TestErrorString(t *testing.T) {
	err := NewError("openai", "gpt-4o", errors.New("boom")).WithStatus(500).WithMessage("upstream exploded")
	s := err.Error()
	for _, want := range []string{"openai/gpt-4o", "unavailable", "status 500", "upstream exploded"} {
		if !strings.Contains(s, want) {
			t.Errorf("Error() = %q, missing %q", s, want)
		}
	}
}

func TestRetryStopsOnTerminalError(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 3, 1, func() error {
		calls++
		return NewError("test", "m", errors.New("bad")).WithKind(KindBadRequest)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryRecoversFromTransientError(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 3, 1, func() error {
		calls++
		if calls < 3 {
			return NewError("test", "m", errors.New("overloaded"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}
