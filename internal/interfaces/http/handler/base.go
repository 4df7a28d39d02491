package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	fulfillmentapp "github.com/thegunfirm/Mag-Lock-sub003/internal/application/fulfillment"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/compliance"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/fulfillment"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/logger"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/interfaces/http/dto"
)

// RequestIDKey is the header carrying the request ID
const RequestIDKey = logger.RequestIDHeader

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID set by the logging middleware
func getRequestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	return c.GetHeader(RequestIDKey)
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// InvalidJSON sends a 400 response for a body that failed to bind
func (h *BaseHandler) InvalidJSON(c *gin.Context, err error) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, err.Error())
}

// errorMapping pairs a sentinel with its API error code
type errorMapping struct {
	target error
	code   string
}

var domainErrorCodes = []errorMapping{
	{fulfillment.ErrOrderNotFound, dto.ErrCodeNotFound},
	{fulfillment.ErrGroupNotFound, dto.ErrCodeNotFound},
	{compliance.ErrHoldNotFound, dto.ErrCodeNotFound},
	{compliance.ErrDealerNotFound, dto.ErrCodeNotFound},
	{fulfillment.ErrOrderExists, dto.ErrCodeAlreadyExists},
	{fulfillment.ErrOrderCancelled, dto.ErrCodeOrderCancelled},
	{compliance.ErrHoldStillBlocking, dto.ErrCodeComplianceHold},
	{compliance.ErrHoldNotActive, dto.ErrCodeInvalidState},
	{fulfillmentapp.ErrGroupClaimed, dto.ErrCodeGroupBusy},
}

// ErrorCode maps an application error to its API error code
func ErrorCode(err error) string {
	for _, m := range domainErrorCodes {
		if errors.Is(err, m.target) {
			return m.code
		}
	}
	if fulfillment.ClassOf(err) == fulfillment.ErrorClassValidation {
		return dto.ErrCodeValidation
	}
	return dto.ErrCodeInternal
}

// HandleError converts application errors to HTTP responses.
// Internal errors are logged and never echoed to the caller.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	code := ErrorCode(err)
	if code == dto.ErrCodeInternal {
		logger.GetGinLogger(c).Error("request failed", zap.Error(err))
		_ = c.Error(err)
		h.Error(c, http.StatusInternalServerError, code, "An unexpected error occurred")
		return
	}
	h.ErrorWithCode(c, code, err.Error())
}

// parseOrderID reads the :id path parameter
func parseOrderID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// parseGroupIndex reads the :index path parameter
func parseGroupIndex(c *gin.Context) (int, bool) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 0 || idx >= fulfillment.MaxGroups {
		return 0, false
	}
	return idx, true
}
