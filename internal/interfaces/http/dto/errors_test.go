package dto

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeUnavailable, http.StatusServiceUnavailable},
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeBadRequest, http.StatusBadRequest},
		{ErrCodeInvalidJSON, http.StatusBadRequest},
		{ErrCodeRequestTooLarge, http.StatusRequestEntityTooLarge},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeAlreadyExists, http.StatusConflict},
		{ErrCodeGroupBusy, http.StatusConflict},
		{ErrCodeInvalidState, http.StatusUnprocessableEntity},
		{ErrCodeOrderCancelled, http.StatusConflict},
		{ErrCodeComplianceHold, http.StatusUnprocessableEntity},
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestResponseEnvelope(t *testing.T) {
	t.Run("success omits error", func(t *testing.T) {
		b, err := json.Marshal(NewSuccessResponse(map[string]int{"order_id": 7}))
		require.NoError(t, err)
		assert.JSONEq(t, `{"success":true,"data":{"order_id":7}}`, string(b))
	})

	t.Run("error carries request id", func(t *testing.T) {
		b, err := json.Marshal(NewErrorResponseWithRequestID(ErrCodeNotFound, "order not found", "req-1"))
		require.NoError(t, err)
		assert.JSONEq(t,
			`{"success":false,"error":{"code":"ERR_NOT_FOUND","message":"order not found","request_id":"req-1"}}`,
			string(b))
	})

	t.Run("error without request id omits it", func(t *testing.T) {
		b, err := json.Marshal(NewErrorResponse(ErrCodeInternal, "boom"))
		require.NoError(t, err)
		assert.NotContains(t, string(b), "request_id")
	})
}
