package core

import "net/http"

// StatusName is the canonical, transport-independent error status.
// The set mirrors the gRPC/Google API status space so that HTTP and MCP
// surfaces can derive their codes from one table.
type StatusName string

const (
	OK                  StatusName = "OK"
	CANCELLED           StatusName = "CANCELLED"
	UNKNOWN             StatusName = "UNKNOWN"
	INVALID_ARGUMENT    StatusName = "INVALID_ARGUMENT"
	DEADLINE_EXCEEDED   StatusName = "DEADLINE_EXCEEDED"
	NOT_FOUND           StatusName = "NOT_FOUND"
	ALREADY_EXISTS      StatusName = "ALREADY_EXISTS"
	PERMISSION_DENIED   StatusName = "PERMISSION_DENIED"
	UNAUTHENTICATED     StatusName = "UNAUTHENTICATED"
	RESOURCE_EXHAUSTED  StatusName = "RESOURCE_EXHAUSTED"
	FAILED_PRECONDITION StatusName = "FAILED_PRECONDITION"
	ABORTED             StatusName = "ABORTED"
	OUT_OF_RANGE        StatusName = "OUT_OF_RANGE"
	UNIMPLEMENTED       StatusName = "UNIMPLEMENTED"
	INTERNAL            StatusName = "INTERNAL"
	UNAVAILABLE         StatusName = "UNAVAILABLE"
	DATA_LOSS           StatusName = "DATA_LOSS"
)

// statusToHTTP maps statuses onto HTTP response codes.
// CANCELLED uses 499 (client closed request, nginx convention).
var statusToHTTP = map[StatusName]int{
	OK:                  http.StatusOK,
	CANCELLED:           499,
	UNKNOWN:             http.StatusInternalServerError,
	INVALID_ARGUMENT:    http.StatusBadRequest,
	DEADLINE_EXCEEDED:   http.StatusRequestTimeout,
	NOT_FOUND:           http.StatusNotFound,
	ALREADY_EXISTS:      http.StatusConflict,
	PERMISSION_DENIED:   http.StatusForbidden,
	UNAUTHENTICATED:     http.StatusUnauthorized,
	RESOURCE_EXHAUSTED:  http.StatusTooManyRequests,
	FAILED_PRECONDITION: http.StatusBadRequest,
	ABORTED:             http.StatusConflict,
	OUT_OF_RANGE:        http.StatusBadRequest,
	UNIMPLEMENTED:       http.StatusNotImplemented,
	INTERNAL:            http.StatusInternalServerError,
	UNAVAILABLE:         http.StatusServiceUnavailable,
	DATA_LOSS:           http.StatusInternalServerError,
}

// HTTPStatusCode returns the HTTP status code for a StatusName.
// Unknown statuses map to 500.
func HTTPStatusCode(s StatusName) int {
	if code, ok := statusToHTTP[s]; ok {
		return code
	}
	return http.StatusInternalServerError
}
