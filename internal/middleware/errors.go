package middleware

// Common error codes used by middleware
const (
	ErrorCodeInternal         = "INTERNAL_ERROR"
	ErrorCodeRequestTimeout   = "REQUEST_TIMEOUT"
	ErrorCodeInvalidSignature = "INVALID_SIGNATURE"
)

// Common error messages used by middleware
const (
	ErrorMessageInternal         = "An internal error occurred"
	ErrorMessageRequestTimeout   = "Request timeout"
	ErrorMessageInvalidSignature = "Request signature verification failed"
)
