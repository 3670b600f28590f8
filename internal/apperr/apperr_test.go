package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := New(KindConflict, "appointment is not pending")
	wrapped := fmt.Errorf("confirm: %w", base)

	kind, ok := KindOf(wrapped)
	if !ok || kind != KindConflict {
		t.Fatalf("expected conflict kind through wrapping, got %v ok=%v", kind, ok)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{New(KindValidation, "missing date"), http.StatusBadRequest},
		{New(KindNotFound, "no such payment"), http.StatusNotFound},
		{New(KindConflict, "already confirmed"), http.StatusConflict},
		{New(KindExternalAuth, "bad signature"), http.StatusUnauthorized},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("row missing")
	err := Wrap(KindNotFound, "session lookup", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable via errors.Is")
	}
}
