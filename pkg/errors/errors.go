package errors

import (
	"errors"
)

type Code string

// Verification outcomes. None of these reach an introspection caller; they
// collapse to an inactive response at the service boundary.
const (
	CodeMalformedToken      Code = "malformed_token"
	CodeSignatureInvalid    Code = "signature_invalid"
	CodeAlgorithmNotTrusted Code = "algorithm_not_trusted"
	CodeIssuerInvalid       Code = "issuer_invalid"
	CodeAudienceInvalid     Code = "audience_invalid"
	CodeExpired             Code = "expired"
	CodeNotYetValid         Code = "not_yet_valid"
	CodeClaimMissing        Code = "claim_missing"
	CodeNotFound            Code = "not_found"
	CodeRevoked             Code = "revoked"
)

const (
	CodeUnknown            Code = "unknown"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeKeyUnavailable     Code = "key_unavailable"
)

var (
	ErrMissingKeySupply    = errors.New("openauth: key supply is required")
	ErrMissingIssuer       = errors.New("openauth: issuer is required")
	ErrMissingIntrospector = errors.New("openauth: introspector is required")
)

type Error struct {
	Code    Code
	Message string
	// Claim names the offending claim for claim validation failures.
	Claim string
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	if e.Message != "" {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func ForClaim(code Code, claim string, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Claim:   claim,
	}
}

func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf reports the code of the outermost *Error in err's chain, CodeUnknown
// for any other non-nil error and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	var typed *Error
	if !errors.As(err, &typed) || typed == nil {
		return CodeUnknown
	}
	return typed.Code
}

func IsInternalCode(err error) bool {
	return IsCode(err, CodeUnknown) || IsCode(err, CodeStorageUnavailable) || IsCode(err, CodeKeyUnavailable)
}
