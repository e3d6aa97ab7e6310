package ensure

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrNumericValues(t *testing.T) {
	tests := []struct {
		code ErrNumeric
		want uint64
	}{
		{ErrStatusUnknown, 0x100},
		{ErrStatusInvalidProductName, 0x101},
		{ErrStatusAlreadyInitialized, 0x102},
		{ErrStatusNotInitialized, 0x103},
		{ErrStatusTimeout, 0x104},
		{ErrEnsureOnlineFailed, 0x10001},
		{ErrEnsureTrustedFailed, 0x10002},
		{ErrEnsureProductNotFound, 0x10003},
		{ErrEnsureProductNotLicensed, 0x10004},
		{ErrEnsureProductClaimNotFound, 0x10005},
		{ErrEnsureProductClaimValueTypeMismatch, 0x10006},
		{ErrEnsureProductClaimValueMismatch, 0x10007},
		{ErrEnsureUnknownOperator, 0x10008},
		{ErrEnsureInvalidTransaction, 0x10009},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, uint64(tt.code))
			assert.NotEmpty(t, ErrNumericToTextMap[tt.code])
		})
	}
	assert.Len(t, ErrNumericToTextMap, len(tests))
}

func TestErrNumericTextIsTotal(t *testing.T) {
	assert.Equal(t, "Success", ErrNumericText(StatusSuccess))
	assert.Equal(t, "Timeout", ErrNumericText(ErrStatusTimeout))
	for _, code := range []ErrNumeric{1, 0xff, 0x105, 0x10000, 0x1000a, 1 << 40} {
		assert.Equal(t, "Unknown", ErrNumericText(code), "code 0x%x", uint64(code))
	}
}

func TestErrNumericFormatting(t *testing.T) {
	assert.Equal(t, "Ensure failed, unknown operator (:0x10008)", ErrEnsureUnknownOperator.Error())
	assert.Equal(t, "Not Initialized (:0x103)", ErrStatusNotInitialized.Error())
	assert.Equal(t, "ErrEnsureUnknownOperator", ErrEnsureUnknownOperator.String())
	assert.Equal(t, "ErrNumeric(7)", ErrNumeric(7).String())
}

func TestAsErrNumeric(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrNumeric
	}{
		{"nil", nil, StatusSuccess},
		{"direct", ErrEnsureProductNotFound, ErrEnsureProductNotFound},
		{"wrapped", fmt.Errorf("lookup: %w", ErrEnsureInvalidTransaction), ErrEnsureInvalidTransaction},
		{"deadline", context.DeadlineExceeded, ErrStatusTimeout},
		{"other", errors.New("boom"), ErrStatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AsErrNumeric(tt.err))
		})
	}
}
