package handlers

import (
	"net/http"

	"github.com/upb/auth-gateway/services"
	"github.com/upb/auth-gateway/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)

	var writeErr error
	switch {
	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w)

	case services.IsNotConfiguredError(err):
		logger.Error("identity provider not configured", zap.Error(err))
		writeErr = utils.WriteServiceUnavailable(w, "Authentication not configured")

	case services.IsExternalError(err):
		// Provider unreachable or answered with something that is not JSON
		logger.Warn("identity provider failure", zap.Error(err), zap.Any("details", details))
		writeErr = utils.WriteBadGateway(w, "", details)

	case services.IsInternalError(err):
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}
