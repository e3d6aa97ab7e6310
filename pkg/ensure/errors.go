package ensure

import (
	"context"
	"errors"
	"fmt"
)

// ErrNumeric is the numeric error type returned by every engine operation.
// The values are stable and shared with foreign bindings.
type ErrNumeric uint64

func (code ErrNumeric) Error() string {
	return fmt.Sprintf("%s (:0x%x)", ErrNumericText(code), uint64(code))
}

// String returns the symbolic name of the code.
func (code ErrNumeric) String() string {
	if name, ok := errNumericNames[code]; ok {
		return name
	}
	return fmt.Sprintf("ErrNumeric(%d)", uint64(code))
}

// StatusSuccess is returned across the numeric boundary when no error occurred.
const StatusSuccess ErrNumeric = 0

// Lifecycle errors.
const (
	ErrStatusUnknown ErrNumeric = iota + (1 << 8)
	ErrStatusInvalidProductName
	ErrStatusAlreadyInitialized
	ErrStatusNotInitialized
	ErrStatusTimeout
)

// Ensure errors.
const (
	ErrEnsureOnlineFailed ErrNumeric = iota + (1 << 16) + 1
	ErrEnsureTrustedFailed
	ErrEnsureProductNotFound
	ErrEnsureProductNotLicensed
	ErrEnsureProductClaimNotFound
	ErrEnsureProductClaimValueTypeMismatch
	ErrEnsureProductClaimValueMismatch
	ErrEnsureUnknownOperator
	ErrEnsureInvalidTransaction
)

// ErrNumericToTextMap maps numeric errors to readable text.
var ErrNumericToTextMap = map[ErrNumeric]string{
	ErrStatusUnknown:            "Unknown",
	ErrStatusInvalidProductName: "Invalid Product Name Value",
	ErrStatusAlreadyInitialized: "Already Initialized",
	ErrStatusNotInitialized:     "Not Initialized",
	ErrStatusTimeout:            "Timeout",

	ErrEnsureOnlineFailed:                  "Ensure failed, product claim set not online",
	ErrEnsureTrustedFailed:                 "Ensure failed, product claim set not trusted",
	ErrEnsureProductNotFound:               "Ensure failed, product entry not found",
	ErrEnsureProductNotLicensed:            "Ensure failed, product is not licensed",
	ErrEnsureProductClaimNotFound:          "Ensure failed, product claim entry not found",
	ErrEnsureProductClaimValueTypeMismatch: "Ensure failed, product claim value type mismatch",
	ErrEnsureProductClaimValueMismatch:     "Ensure failed, product claim value mismatch",
	ErrEnsureUnknownOperator:               "Ensure failed, unknown operator",
	ErrEnsureInvalidTransaction:            "Ensure failed, invalid transaction",
}

var errNumericNames = map[ErrNumeric]string{
	StatusSuccess:               "StatusSuccess",
	ErrStatusUnknown:            "ErrStatusUnknown",
	ErrStatusInvalidProductName: "ErrStatusInvalidProductName",
	ErrStatusAlreadyInitialized: "ErrStatusAlreadyInitialized",
	ErrStatusNotInitialized:     "ErrStatusNotInitialized",
	ErrStatusTimeout:            "ErrStatusTimeout",

	ErrEnsureOnlineFailed:                  "ErrEnsureOnlineFailed",
	ErrEnsureTrustedFailed:                 "ErrEnsureTrustedFailed",
	ErrEnsureProductNotFound:               "ErrEnsureProductNotFound",
	ErrEnsureProductNotLicensed:            "ErrEnsureProductNotLicensed",
	ErrEnsureProductClaimNotFound:          "ErrEnsureProductClaimNotFound",
	ErrEnsureProductClaimValueTypeMismatch: "ErrEnsureProductClaimValueTypeMismatch",
	ErrEnsureProductClaimValueMismatch:     "ErrEnsureProductClaimValueMismatch",
	ErrEnsureUnknownOperator:               "ErrEnsureUnknownOperator",
	ErrEnsureInvalidTransaction:            "ErrEnsureInvalidTransaction",
}

// ErrNumericText returns the text for code. It never returns the empty
// string: codes outside the table render as the text of ErrStatusUnknown.
func ErrNumericText(code ErrNumeric) string {
	if code == StatusSuccess {
		return "Success"
	}
	if text, ok := ErrNumericToTextMap[code]; ok {
		return text
	}
	return ErrNumericToTextMap[ErrStatusUnknown]
}

// AsErrNumeric folds any error into the numeric taxonomy.
func AsErrNumeric(err error) ErrNumeric {
	if err == nil {
		return StatusSuccess
	}
	var code ErrNumeric
	if errors.As(err, &code) {
		return code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrStatusTimeout
	}
	return ErrStatusUnknown
}

// Sentinel errors a Source can wrap to steer the scheduler.
var (
	// ErrUnrecoverable stops the scheduler for good and fails readiness.
	ErrUnrecoverable = errors.New("unrecoverable claim source error")
	// ErrVerification marks a fetched claim set that failed its trust check.
	ErrVerification = errors.New("claim set verification failed")
	// ErrSourceOffline is reported when a source answered with a fallback
	// set (ClaimSet.Offline) instead of live claims.
	ErrSourceOffline = errors.New("claim source offline, serving fallback claims")
)
