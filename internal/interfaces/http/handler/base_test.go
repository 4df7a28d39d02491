package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fulfillmentapp "github.com/thegunfirm/Mag-Lock-sub003/internal/application/fulfillment"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/compliance"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/fulfillment"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/interfaces/http/dto"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *dto.ErrorInfo {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	return resp.Error
}

func TestGetRequestID(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*gin.Context)
		expectedID string
	}{
		{
			name:       "from context",
			setup:      func(c *gin.Context) { c.Set("request_id", "ctx-request-id") },
			expectedID: "ctx-request-id",
		},
		{
			name:       "from header when context empty",
			setup:      func(c *gin.Context) { c.Request.Header.Set(RequestIDKey, "header-request-id") },
			expectedID: "header-request-id",
		},
		{
			name:       "empty when not set",
			setup:      func(c *gin.Context) {},
			expectedID: "",
		},
		{
			name: "context takes precedence over header",
			setup: func(c *gin.Context) {
				c.Set("request_id", "ctx-id")
				c.Request.Header.Set(RequestIDKey, "header-id")
			},
			expectedID: "ctx-id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestContext(t)
			tt.setup(c)
			assert.Equal(t, tt.expectedID, getRequestID(c))
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"order not found", fulfillment.ErrOrderNotFound, dto.ErrCodeNotFound},
		{"wrapped group not found", fmt.Errorf("load: %w", fulfillment.ErrGroupNotFound), dto.ErrCodeNotFound},
		{"hold not found", compliance.ErrHoldNotFound, dto.ErrCodeNotFound},
		{"dealer not found", compliance.ErrDealerNotFound, dto.ErrCodeNotFound},
		{"duplicate order", fulfillment.ErrOrderExists, dto.ErrCodeAlreadyExists},
		{"cancelled", fulfillment.ErrOrderCancelled, dto.ErrCodeOrderCancelled},
		{"still blocking", compliance.ErrHoldStillBlocking, dto.ErrCodeComplianceHold},
		{"hold not active", compliance.ErrHoldNotActive, dto.ErrCodeInvalidState},
		{"claimed", fulfillmentapp.ErrGroupClaimed, dto.ErrCodeGroupBusy},
		{"validation class", fulfillment.Validation(fulfillment.ErrInvalidOrder, "missing email"), dto.ErrCodeValidation},
		{"invariant class", fulfillment.Invariant(fulfillment.ErrPartitionViolation, "item 3 unassigned"), dto.ErrCodeInternal},
		{"unclassified", errors.New("db down"), dto.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, ErrorCode(tt.err))
		})
	}
}

func TestHandleError(t *testing.T) {
	h := &BaseHandler{}

	t.Run("known error echoes message with mapped status", func(t *testing.T) {
		c, w := newTestContext(t)
		c.Set("request_id", "req-9")
		h.HandleError(c, fulfillment.ErrOrderNotFound)

		assert.Equal(t, http.StatusNotFound, w.Code)
		info := decodeError(t, w)
		assert.Equal(t, dto.ErrCodeNotFound, info.Code)
		assert.Equal(t, fulfillment.ErrOrderNotFound.Error(), info.Message)
		assert.Equal(t, "req-9", info.RequestID)
	})

	t.Run("internal error hides details", func(t *testing.T) {
		c, w := newTestContext(t)
		h.HandleError(c, errors.New("pq: password authentication failed"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		info := decodeError(t, w)
		assert.Equal(t, dto.ErrCodeInternal, info.Code)
		assert.NotContains(t, info.Message, "password")
		assert.Len(t, c.Errors, 1)
	})

	t.Run("nil error writes nothing", func(t *testing.T) {
		c, w := newTestContext(t)
		h.HandleError(c, nil)
		assert.False(t, c.Writer.Written())
		assert.Equal(t, 0, w.Body.Len())
	})
}

func TestBaseHandlerResponses(t *testing.T) {
	h := &BaseHandler{}

	t.Run("created", func(t *testing.T) {
		c, w := newTestContext(t)
		h.Created(c, map[string]int64{"order_id": 1})
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.JSONEq(t, `{"success":true,"data":{"order_id":1}}`, w.Body.String())
	})

	t.Run("bad request", func(t *testing.T) {
		c, w := newTestContext(t)
		h.BadRequest(c, "bad id")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeBadRequest, decodeError(t, w).Code)
	})

	t.Run("invalid json", func(t *testing.T) {
		c, w := newTestContext(t)
		h.InvalidJSON(c, errors.New("unexpected EOF"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidJSON, decodeError(t, w).Code)
	})
}

func TestParsePathParams(t *testing.T) {
	tests := []struct {
		id, index string
		wantID    int64
		idOK      bool
		wantIdx   int
		idxOK     bool
	}{
		{"42", "0", 42, true, 0, true},
		{"1", "25", 1, true, 25, true},
		{"0", "26", 0, false, 0, false},
		{"-3", "-1", 0, false, 0, false},
		{"abc", "x", 0, false, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.id+"/"+tt.index, func(t *testing.T) {
			c, _ := newTestContext(t)
			c.Params = gin.Params{{Key: "id", Value: tt.id}, {Key: "index", Value: tt.index}}

			id, ok := parseOrderID(c)
			assert.Equal(t, tt.idOK, ok)
			assert.Equal(t, tt.wantID, id)

			idx, ok := parseGroupIndex(c)
			assert.Equal(t, tt.idxOK, ok)
			assert.Equal(t, tt.wantIdx, idx)
		})
	}
}
