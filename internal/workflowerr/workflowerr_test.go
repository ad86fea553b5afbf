package workflowerr

import (
	"errors"
	"testing"
)

func TestKind_Retryable(t *testing.T) {
	cases := map[Kind]bool{
		NetworkTransient:         true,
		UploadVerificationFailed: true,
		StoreConflict:            true,
		InvalidInput:             false,
		ItemMissing:              false,
		DispatchFailed:           false,
	}
	for k, want := range cases {
		if got := k.Retryable(); got != want {
			t.Errorf("%s: got %v, want %v", k, got, want)
		}
	}
}

func TestKind_HTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		InvalidInput:   400,
		ItemMissing:    404,
		PosterMissing:  404,
		NetworkTransient: 408,
		StoreConflict:  409,
		ComposerFailed: 500,
	}
	for k, want := range cases {
		if got := k.HTTPStatus(); got != want {
			t.Errorf("%s: got %d, want %d", k, got, want)
		}
	}
}

func TestError_IsMatchesByKind(t *testing.T) {
	err := New(ItemMissing, "GetItem", errors.New("poster 123 not found"))
	if !errors.Is(err, Sentinel(ItemMissing)) {
		t.Fatal("expected errors.Is to match on kind")
	}
	if errors.Is(err, Sentinel(PosterMissing)) {
		t.Fatal("expected errors.Is to not match a different kind")
	}
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := New(NetworkTransient, "UploadPoster", inner)
	if !errors.Is(err, inner) {
		t.Fatal("expected Unwrap to expose the inner error")
	}
}
