package gidtoken

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents issuance and verification error categories.
type ErrorCode string

const (
	ErrCodeMalformedToken   ErrorCode = "malformed_token"
	ErrCodeSigning          ErrorCode = "signing_failed"
	ErrCodeTokenExchange    ErrorCode = "token_exchange_failed"
	ErrCodeMetadataFetch    ErrorCode = "metadata_fetch_failed"
	ErrCodeImpersonation    ErrorCode = "impersonation_failed"
	ErrCodeKeyFetch         ErrorCode = "key_fetch_failed"
	ErrCodeKeyNotFound      ErrorCode = "key_not_found"
	ErrCodeSignatureInvalid ErrorCode = "signature_invalid"
	ErrCodeExpired          ErrorCode = "token_expired"
	ErrCodeNotYetValid      ErrorCode = "token_not_yet_valid"
	ErrCodeInvalidIssuer    ErrorCode = "invalid_issuer"
	ErrCodeAudienceMismatch ErrorCode = "audience_mismatch"
	ErrCodeInvalidIdentity  ErrorCode = "invalid_identity"
	ErrCodeInvalidConfig    ErrorCode = "invalid_config"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeMalformedToken:   "Malformed token",
	ErrCodeSigning:          "Signing failed",
	ErrCodeTokenExchange:    "Token exchange failed",
	ErrCodeMetadataFetch:    "Metadata fetch failed",
	ErrCodeImpersonation:    "Impersonation failed",
	ErrCodeKeyFetch:         "Key fetch failed",
	ErrCodeKeyNotFound:      "Key not found",
	ErrCodeSignatureInvalid: "Signature invalid",
	ErrCodeExpired:          "Token expired",
	ErrCodeNotYetValid:      "Token not yet valid",
	ErrCodeInvalidIssuer:    "Invalid issuer",
	ErrCodeAudienceMismatch: "Audience mismatch",
	ErrCodeInvalidIdentity:  "Invalid service identity",
	ErrCodeInvalidConfig:    "Invalid configuration",
}

// Error wraps issuance and verification errors with a stable code.
// StatusCode and Body are set when a remote endpoint answered with a non-200 response.
type Error struct {
	Code       ErrorCode
	Message    string
	Op         string
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	base := e.Message
	if base == "" {
		base = string(e.Code)
	}
	b.WriteString(base)
	if e.Endpoint != "" {
		fmt.Fprintf(&b, " (%s)", e.Endpoint)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
		if e.Body != "" {
			fmt.Fprintf(&b, ": %s", e.Body)
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

func newError(code ErrorCode, err error) *Error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = string(code)
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// newRemoteError builds an error for a collaborator that answered with an unexpected status.
func newRemoteError(code ErrorCode, op, endpoint string, status int, body []byte) *Error {
	e := newError(code, nil)
	e.Op = op
	e.Endpoint = endpoint
	e.StatusCode = status
	e.Body = strings.TrimSpace(string(body))
	return e
}

// withOp annotates err with the operation and endpoint when it is an *Error
// that does not carry them yet. Other errors are returned unchanged.
func withOp(err error, op, endpoint string) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	if e.Op == "" {
		e.Op = op
	}
	if e.Endpoint == "" {
		e.Endpoint = endpoint
	}
	return err
}
