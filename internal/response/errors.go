package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrPermissionDenied ErrCode = "PERMISSION_DENIED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound      ErrCode = "NOT_FOUND"
	ErrExamNotFound  ErrCode = "EXAM_NOT_FOUND"
	ErrDriveNotFound ErrCode = "DRIVE_NOT_FOUND"

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	ErrNotEnrolled       ErrCode = "NOT_ENROLLED"
	ErrDriveNotOpen      ErrCode = "DRIVE_NOT_OPEN"
	ErrDriveClosed       ErrCode = "DRIVE_CLOSED"
	ErrQuotaExhausted    ErrCode = "QUOTA_EXHAUSTED"
	ErrTimeExpired       ErrCode = "TIME_EXPIRED"
	ErrAttemptInProgress ErrCode = "ATTEMPT_IN_PROGRESS"
	ErrNoActiveAttempt   ErrCode = "NO_ACTIVE_ATTEMPT"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrServiceUnavailable ErrCode = "SERVICE_UNAVAILABLE"
	ErrInternal           ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid or expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrPermissionDenied:
		return "You do not have permission to access this resource."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrExamNotFound:
		return "Exam not found."
	case ErrDriveNotFound:
		return "Drive not found."

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	case ErrNotEnrolled:
		return "You are not enrolled in this drive for this exam."
	case ErrDriveNotOpen:
		return "This drive is not open yet."
	case ErrDriveClosed:
		return "This drive is already closed."
	case ErrQuotaExhausted:
		return "You have used all attempts allowed for this drive."
	case ErrTimeExpired:
		return "Time for this attempt has expired. The submission was not recorded."
	case ErrAttemptInProgress:
		return "An attempt for this exam is already in progress."
	case ErrNoActiveAttempt:
		return "No active attempt was found for this exam."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrServiceUnavailable:
		return "Service temporarily unavailable. Please retry shortly."
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
