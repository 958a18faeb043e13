package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-leasing/internal/shared"
)

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{err: fmt.Errorf("wrap: %w", shared.ErrValidation), status: http.StatusBadRequest},
		{err: shared.ErrNotFound, status: http.StatusNotFound},
		{err: shared.ErrJobBusy, status: http.StatusConflict},
		{err: ErrBadGateway, status: http.StatusBadGateway},
		{err: fmt.Errorf("boom"), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())

		var problem ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
		require.Equal(t, tc.status, problem.Status)
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Month int `json:"month"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"month":1,"extra":true}`))
	require.Error(t, DecodeJSON(req, &target))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	require.Error(t, DecodeJSON(req, &target))
}
