// internal/api/error_codes.go
package api

// API error codes.
const (
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"
	ErrorTimeout       = "TIMEOUT"

	ErrorRunNotFound    = "RUN_NOT_FOUND"
	ErrorRosterNotFound = "ROSTER_NOT_FOUND"
	ErrorInvalidTest    = "INVALID_TEST"
	ErrorNoGroundTruth  = "GROUND_TRUTH_MISSING"

	ErrorScriptNotAvailable = "SCRIPT_NOT_AVAILABLE"
	ErrorFormatUnusable     = "FORMAT_UNUSABLE"
	ErrorFormatRejected     = "FORMAT_REJECTED"
)
