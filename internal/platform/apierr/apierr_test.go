package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

var errSentinel = errors.New("sentinel")

func TestErrorKeepsCauseAndCode(t *testing.T) {
	err := fmt.Errorf("submit: %w", New(http.StatusBadRequest, "turn_text_empty", errSentinel))
	if !errors.Is(err, errSentinel) {
		t.Fatalf("cause lost: %v", err)
	}
	ae, ok := As(err)
	if !ok || ae.Status != http.StatusBadRequest {
		t.Fatalf("As: %+v %v", ae, ok)
	}
	if !HasCode(err, "turn_text_empty") || HasCode(err, "other") {
		t.Fatalf("HasCode mismatch")
	}
	if got := New(http.StatusNotFound, "missing", nil).Error(); got != "missing" {
		t.Fatalf("nil cause message: %q", got)
	}
}
