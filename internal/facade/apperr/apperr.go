// Package apperr maps the runtime's internal runtimeerr.Kind taxonomy to the
// two wire error representations the facade speaks: HTTP status codes and
// gRPC status codes.
package apperr

import (
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mosaic-run/meshrt/internal/runtimeerr"
)

var httpTable = map[runtimeerr.Kind]int{
	runtimeerr.ConfigMissing:        http.StatusInternalServerError,
	runtimeerr.RuntimeAlreadyStarted: http.StatusConflict,
	runtimeerr.RuntimeNotStarted:    http.StatusServiceUnavailable,
	runtimeerr.MosaicAlreadyRunning: http.StatusConflict,
	runtimeerr.MosaicStarting:       http.StatusConflict,
	runtimeerr.MosaicNotRunning:     http.StatusNotFound,
	runtimeerr.NodeNotFound:         http.StatusNotFound,
	runtimeerr.NodeAlreadyRunning:   http.StatusConflict,
	runtimeerr.NodeNotRunning:       http.StatusConflict,
	runtimeerr.SessionNotFound:      http.StatusNotFound,
	runtimeerr.SessionConflict:      http.StatusConflict,
	runtimeerr.RuntimeTimeout:       http.StatusGatewayTimeout,
	runtimeerr.RuntimeInternal:      http.StatusInternalServerError,
}

var grpcTable = map[runtimeerr.Kind]codes.Code{
	runtimeerr.ConfigMissing:        codes.FailedPrecondition,
	runtimeerr.RuntimeAlreadyStarted: codes.AlreadyExists,
	runtimeerr.RuntimeNotStarted:    codes.Unavailable,
	runtimeerr.MosaicAlreadyRunning: codes.AlreadyExists,
	runtimeerr.MosaicStarting:       codes.Unavailable,
	runtimeerr.MosaicNotRunning:     codes.NotFound,
	runtimeerr.NodeNotFound:         codes.NotFound,
	runtimeerr.NodeAlreadyRunning:   codes.AlreadyExists,
	runtimeerr.NodeNotRunning:       codes.FailedPrecondition,
	runtimeerr.SessionNotFound:      codes.NotFound,
	runtimeerr.SessionConflict:      codes.AlreadyExists,
	runtimeerr.RuntimeTimeout:       codes.DeadlineExceeded,
	runtimeerr.RuntimeInternal:      codes.Internal,
}

// ToHTTPStatus maps err to an HTTP status code. Errors that are not a
// runtimeerr.Error map to 500.
func ToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if code, ok := httpTable[runtimeerr.KindOf(err)]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// ToGRPCStatus maps err to a *status.Status carrying its message.
func ToGRPCStatus(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	code, ok := grpcTable[runtimeerr.KindOf(err)]
	if !ok {
		code = codes.Internal
	}
	return status.New(code, err.Error())
}
