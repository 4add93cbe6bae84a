package auth

import (
	"context"
	"net/http"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeTokenMalformed         = "TOKEN_MALFORMED"
	TextCodeTokenExpired           = "TOKEN_EXPIRED"
	TextCodeSubjectUnknown         = "SUBJECT_UNKNOWN"
	TextCodeAccountPending         = "ACCOUNT_PENDING_APPROVAL"
	TextCodeAccountNotAuthorized   = "ACCOUNT_NOT_AUTHORIZED"
	TextCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	TextCodeRoleForbidden          = "ROLE_FORBIDDEN"
	TextCodeResetTokenNotFound     = "RESET_TOKEN_NOT_FOUND"
	TextCodeResetTokenExpired      = "RESET_TOKEN_EXPIRED"
	TextCodeResetTokenSuperseded   = "RESET_TOKEN_SUPERSEDED"
	TextCodeResetTokenConsumed     = "RESET_TOKEN_CONSUMED"
	TextCodeStoreUnavailable       = "STORE_UNAVAILABLE"
	TextCodeTooManyAttempts        = "TOO_MANY_ATTEMPTS"
	TextCodeIdentityNotFound       = "IDENTITY_NOT_FOUND"
	textCodeEmptyPassword          = "EMPTY_PASSWORD"
	textCodeUnknownRole            = "UNKNOWN_ROLE"
	textCodeInvalidStatusForRole   = "INVALID_STATUS"
	textCodeMissingResetIdentifier = "MISSING_RESET_TOKEN"
	textCodeInvalidEmail           = "INVALID_EMAIL"
)

// Session token rejections.
var (
	// ErrTokenMalformed the token cannot be parsed or verified
	ErrTokenMalformed = errors.New("session token is malformed", errors.CategoryAuth).
				WithTextCode(TextCodeTokenMalformed).
				WithCode(errors.CodeBadRequest)

	// ErrTokenExpired the token reached its expiration time
	ErrTokenExpired = errors.New("session token has expired", errors.CategoryAuth).
			WithTextCode(TextCodeTokenExpired).
			WithCode(errors.CodeUnauthorized)

	// ErrSubjectUnknown the token subject no longer exists
	ErrSubjectUnknown = errors.New("session subject no longer exists", errors.CategoryAuth).
				WithTextCode(TextCodeSubjectUnknown).
				WithCode(errors.CodeUnauthorized)

	// ErrAccountPending the account exists but waits for approval
	ErrAccountPending = errors.New("account is pending approval", errors.CategoryAuthz).
				WithTextCode(TextCodeAccountPending).
				WithCode(errors.CodeForbidden)

	// ErrAccountNotAuthorized the account status does not allow sessions
	ErrAccountNotAuthorized = errors.New("account is not authorized to sign in", errors.CategoryAuthz).
				WithTextCode(TextCodeAccountNotAuthorized).
				WithCode(errors.CodeForbidden)
)

// Login and access errors.
var (
	// ErrInvalidCredentials unknown email or wrong password, never distinguished
	ErrInvalidCredentials = errors.New("invalid email or password", errors.CategoryAuth).
				WithTextCode(TextCodeInvalidCredentials).
				WithCode(errors.CodeUnauthorized)

	// ErrRoleForbidden the identity role is outside the required role set
	ErrRoleForbidden = errors.New("identity role is not allowed for this resource", errors.CategoryAuthz).
				WithTextCode(TextCodeRoleForbidden).
				WithCode(errors.CodeForbidden)

	// ErrTooManyAttempts the caller exceeded the attempt window
	ErrTooManyAttempts = errors.New("too many attempts, try again later", errors.CategoryRateLimit).
				WithTextCode(TextCodeTooManyAttempts).
				WithCode(http.StatusTooManyRequests)

	// ErrIdentityNotFound is returned by stores for unknown accounts
	ErrIdentityNotFound = errors.New("identity not found", errors.CategoryNotFound).
				WithTextCode(TextCodeIdentityNotFound).
				WithCode(errors.CodeNotFound)

	// ErrNoEmptyString empty passwords are never hashed
	ErrNoEmptyString = errors.New("password must not be empty", errors.CategoryValidation).
				WithTextCode(textCodeEmptyPassword).
				WithCode(errors.CodeBadRequest)

	// ErrUnknownRole the role is not one of the portal roles
	ErrUnknownRole = errors.New("unknown role", errors.CategoryBadInput).
			WithTextCode(textCodeUnknownRole).
			WithCode(errors.CodeBadRequest)

	// ErrInvalidEmail the email is not a valid address
	ErrInvalidEmail = errors.New("invalid email address", errors.CategoryBadInput).
			WithTextCode(textCodeInvalidEmail).
			WithCode(errors.CodeBadRequest)

	// ErrInvalidStatus the status is not a known account status
	ErrInvalidStatus = errors.New("invalid account status", errors.CategoryBadInput).
				WithTextCode(textCodeInvalidStatusForRole).
				WithCode(errors.CodeBadRequest)
)

// Reset token rejections.
var (
	ErrResetTokenNotFound = errors.New("password reset token not found", errors.CategoryNotFound).
				WithTextCode(TextCodeResetTokenNotFound).
				WithCode(errors.CodeNotFound)

	ErrResetTokenExpired = errors.New("password reset token has expired", errors.CategoryValidation).
				WithTextCode(TextCodeResetTokenExpired).
				WithCode(http.StatusGone)

	ErrResetTokenSuperseded = errors.New("password reset token was replaced by a newer request", errors.CategoryValidation).
				WithTextCode(TextCodeResetTokenSuperseded).
				WithCode(http.StatusGone)

	ErrResetTokenConsumed = errors.New("password reset token has already been used", errors.CategoryConflict).
				WithTextCode(TextCodeResetTokenConsumed).
				WithCode(errors.CodeConflict)

	ErrMissingResetToken = errors.New("password reset token is required", errors.CategoryBadInput).
				WithTextCode(textCodeMissingResetIdentifier).
				WithCode(errors.CodeBadRequest)
)

// RejectionKind names an outcome callers must handle distinctly
type RejectionKind string

const (
	KindNone                  RejectionKind = ""
	KindMalformed             RejectionKind = "malformed"
	KindExpired               RejectionKind = "expired"
	KindUnknown               RejectionKind = "unknown"
	KindNotAuthorized         RejectionKind = "not_authorized"
	KindInvalidCredentials    RejectionKind = "invalid_credentials"
	KindForbidden             RejectionKind = "forbidden"
	KindNotFound              RejectionKind = "not_found"
	KindAlreadyConsumed       RejectionKind = "already_consumed"
	KindTransientStoreFailure RejectionKind = "transient_store_failure"
	KindTooManyAttempts       RejectionKind = "too_many_attempts"
	KindBadInput              RejectionKind = "bad_input"
	KindInvalidTransition     RejectionKind = "invalid_transition"
	KindInternal              RejectionKind = "internal"
)

var kindsByTextCode = map[string]RejectionKind{
	TextCodeTokenMalformed:         KindMalformed,
	TextCodeTokenExpired:           KindExpired,
	TextCodeSubjectUnknown:         KindUnknown,
	TextCodeAccountPending:         KindNotAuthorized,
	TextCodeAccountNotAuthorized:   KindNotAuthorized,
	TextCodeInvalidCredentials:     KindInvalidCredentials,
	TextCodeRoleForbidden:          KindForbidden,
	TextCodeResetTokenNotFound:     KindNotFound,
	TextCodeResetTokenExpired:      KindExpired,
	TextCodeResetTokenSuperseded:   KindExpired,
	TextCodeResetTokenConsumed:     KindAlreadyConsumed,
	TextCodeStoreUnavailable:       KindTransientStoreFailure,
	TextCodeTooManyAttempts:        KindTooManyAttempts,
	TextCodeIdentityNotFound:       KindUnknown,
	textCodeEmptyPassword:          KindBadInput,
	textCodeUnknownRole:            KindBadInput,
	textCodeInvalidStatusForRole:   KindBadInput,
	textCodeMissingResetIdentifier: KindBadInput,
	textCodeInvalidEmail:           KindBadInput,
	textCodeInvalidTransition:      KindInvalidTransition,
	textCodeTerminalState:          KindInvalidTransition,
}

// KindOf classifies an error returned by this package
func KindOf(err error) RejectionKind {
	if err == nil {
		return KindNone
	}

	var richErr *errors.Error
	if errors.As(err, &richErr) {
		if kind, ok := kindsByTextCode[richErr.TextCode]; ok {
			return kind
		}
	}

	return KindInternal
}

// IsError reports whether err is target, or a copy of target made with
// Clone or errors.Wrap. Copies are matched by text code since they no
// longer share the sentinel pointer.
func IsError(err, target error) bool {
	if err == nil || target == nil {
		return err == target
	}
	if errors.Is(err, target) {
		return true
	}

	var want *errors.Error
	if !errors.As(target, &want) || want.TextCode == "" {
		return false
	}

	var got *errors.Error
	if errors.As(err, &got) {
		return got.TextCode == want.TextCode
	}
	return false
}

// IsRetryable only transient store failures may be retried by the caller
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransientStoreFailure
}

// HTTPStatus returns the status code carried by a rich error
func HTTPStatus(err error) int {
	var richErr *errors.Error
	if errors.As(err, &richErr) && richErr.Code > 0 {
		return richErr.Code
	}
	return http.StatusInternalServerError
}

// storeFailure wraps a credential store error as retryable. Errors that
// already carry a kind pass through untouched.
func storeFailure(err error, operation string) error {
	if err == nil {
		return nil
	}

	if kind := KindOf(err); kind != KindInternal {
		return err
	}

	message := "credential store unavailable"
	if errors.Is(err, context.DeadlineExceeded) {
		message = "credential store timed out"
	}

	return errors.Wrap(err, errors.CategoryOperation, message).
		WithTextCode(TextCodeStoreUnavailable).
		WithCode(http.StatusServiceUnavailable).
		WithMetadata(map[string]any{"operation": operation})
}
