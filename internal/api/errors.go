package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dronefleet/gcslink/pkg/bridge"
	"github.com/dronefleet/gcslink/pkg/gcs"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	// Code is a stable machine readable classification of Error.
	Code string `json:"code"`
}

// errBadRequest marks request validation failures.
var errBadRequest = errors.New("bad request")

// classify maps an error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, gcs.ErrNotConnected):
		return http.StatusConflict, "not_connected"
	case errors.Is(err, gcs.ErrAlreadyConnected):
		return http.StatusConflict, "already_connected"
	case errors.Is(err, gcs.ErrUnknownProtocolMessage):
		return http.StatusBadRequest, "unknown_protocol_message"
	case errors.Is(err, gcs.ErrConnectionTimeout):
		return http.StatusGatewayTimeout, "connection_timeout"
	case errors.Is(err, gcs.ErrConnectAborted):
		return http.StatusConflict, "connect_aborted"
	case errors.Is(err, gcs.ErrTransport):
		return http.StatusBadGateway, "transport_error"
	case errors.Is(err, bridge.ErrLaunchFailed):
		return http.StatusBadGateway, "launch_failed"
	case errors.Is(err, errBridgeUnavailable), errors.Is(err, errHealthDisabled):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return 499, "cancelled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// abortWithError writes the classified error response and records err for
// the logging middleware.
func abortWithError(c *gin.Context, err error) {
	status, code := classify(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error(), Code: code})
}
