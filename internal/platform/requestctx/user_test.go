package requestctx

import (
	"context"
	"testing"
)

func TestUserIDRoundTripTrims(t *testing.T) {
	ctx := WithUserID(context.Background(), "  dancer-42 ")
	if got := UserID(ctx); got != "dancer-42" {
		t.Fatalf("UserID = %q, want %q", got, "dancer-42")
	}
}

func TestUserIDAnonymous(t *testing.T) {
	if got := UserID(context.Background()); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
	if got := UserID(nil); got != "" {
		t.Fatalf("expected empty string for nil context, got %q", got)
	}
}

func TestWithUserIDBlankKeepsContext(t *testing.T) {
	base := context.Background()
	if ctx := WithUserID(base, "   "); ctx != base {
		t.Fatal("blank user id should not wrap the context")
	}
}

func TestWithUserIDNilContext(t *testing.T) {
	ctx := WithUserID(nil, "dancer-99")
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
	if got := UserID(ctx); got != "dancer-99" {
		t.Fatalf("UserID = %q, want %q", got, "dancer-99")
	}
}
