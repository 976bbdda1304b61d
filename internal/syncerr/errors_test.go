package syncerr

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsMatchesByKind(t *testing.T) {
	err := Wrap(KindAuth, "refresh rejected", errors.New("invalid_grant"))
	wrapped := fmt.Errorf("sync account: %w", err)

	if !errors.Is(wrapped, ErrAuth) {
		t.Fatal("expected wrapped auth error to match ErrAuth")
	}
	if errors.Is(wrapped, ErrTransient) {
		t.Fatal("auth error must not match ErrTransient")
	}
	if got := KindOf(wrapped); got != KindAuth {
		t.Fatalf("KindOf = %q, want %q", got, KindAuth)
	}
	if got := err.Error(); got != "refresh rejected: invalid_grant" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != "" {
		t.Fatalf("KindOf(plain) = %q, want empty", got)
	}
	if IsRetryable(errors.New("boom")) {
		t.Fatal("plain errors are not retryable")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := map[Kind]bool{
		KindTransient:     true,
		KindTaskFailed:    true,
		KindTaskTimeout:   true,
		KindAuth:          false,
		KindQuotaExceeded: false,
		KindNotFound:      false,
		KindStorage:       false,
	}
	for kind, want := range cases {
		if got := IsRetryable(New(kind, "x")); got != want {
			t.Errorf("IsRetryable(%s) = %v, want %v", kind, got, want)
		}
	}
}

func TestRetryAfterOf(t *testing.T) {
	err := &Error{Kind: KindTransient, Message: "rate limited", RetryAfter: 3 * time.Second}
	if got := RetryAfterOf(fmt.Errorf("list page: %w", err)); got != 3*time.Second {
		t.Fatalf("RetryAfterOf = %v", got)
	}
}
