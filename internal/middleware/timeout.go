package middleware

import (
	"net/http"
	"time"
)

// Timeout bounds request handling. http.TimeoutHandler buffers the response
// body, so the event stream must be routed outside this wrapper.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	message := `{"success":false,"error":{"code":"REQUEST_TIMEOUT","message":"request timed out"}}`

	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, message)
	}
}
