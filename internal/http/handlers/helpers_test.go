package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/apperr"
)

func TestWriteErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.New(apperr.KindValidation, "bad input"), http.StatusBadRequest},
		{apperr.New(apperr.KindNotFound, "missing"), http.StatusNotFound},
		{apperr.New(apperr.KindConflict, "already scheduled"), http.StatusConflict},
		{apperr.New(apperr.KindExternalAuth, "bad signature"), http.StatusUnauthorized},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, tc.err)
		require.Equal(t, tc.want, rec.Code)
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body errorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.NotEmpty(t, body.Error)
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("pgx: connection refused"))

	var body errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "internal error", body.Error)
}

func TestDecodeJSONRejectsGarbage(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{nope"))
	var v map[string]any
	err := decodeJSON(req, &v)
	require.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestUUIDParam(t *testing.T) {
	id := uuid.New()

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id.String())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	got, err := uuidParam(req, "id")
	require.NoError(t, err)
	require.Equal(t, id, got)

	rctx.URLParams.Add("other", "not-a-uuid")
	_, err = uuidParam(req, "other")
	require.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestParseDate(t *testing.T) {
	day, err := parseDate("2026-03-14")
	require.NoError(t, err)
	require.Equal(t, "2026-03-14", day.Format(dateLayout))

	_, err = parseDate("14/03/2026")
	require.True(t, apperr.IsKind(err, apperr.KindValidation))
}
