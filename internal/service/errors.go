package service

// Error is a typed orchestrator failure. Reason is the stable
// machine-readable code the boundary layer returns to clients; Message is
// the human-readable text. The authentication-class values deliberately
// share the same message so neither the response body nor logs reveal which
// check failed.
type Error struct {
	Reason  string
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	// Validation class.
	ErrUsernameWhitespace = &Error{Reason: "username_contains_whitespace", Message: "username contains whitespace"}

	// Conflict class.
	ErrEmailExists    = &Error{Reason: "email_already_exists", Message: "email already exists"}
	ErrUsernameExists = &Error{Reason: "username_already_exists", Message: "username already exists"}

	// Authentication class. Distinct internally, identical externally.
	ErrInvalidUsername = &Error{Reason: "invalid_username", Message: "Invalid credentials"}
	ErrInvalidPassword = &Error{Reason: "invalid_password", Message: "Invalid credentials"}

	// Refresh-protocol class.
	ErrInvalidRefreshToken    = &Error{Reason: "invalid_refresh_token", Message: "invalid refresh token"}
	ErrRefreshSessionNotFound = &Error{Reason: "refresh_session_not_found", Message: "refresh session not found"}
	ErrRefreshSessionMismatch = &Error{Reason: "refresh_session_mismatch", Message: "refresh session mismatch"}
)
