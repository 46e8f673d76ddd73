package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Deleter.DeleteAllUserData", ErrConfirmationRequired, "user 7")
	want := "Deleter.DeleteAllUserData: user 7: confirmation required"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("GDPRHandler.ExportUserData", ErrConsentRequired, "")
	want := "GDPRHandler.ExportUserData: user consent required"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Exporter.ExportAllUserData", ErrStorage, "read cases")
	if !errors.Is(err, ErrStorage) {
		t.Error("errors.Is should match ErrStorage")
	}
}

func TestWrapOp(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))

	err := WrapOp("ConsentStore.Revoke", ErrNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "ConsentStore.Revoke: not found", err.Error())
}

func TestRateLimitError(t *testing.T) {
	err := &RateLimitError{
		UserID:     3,
		Operation:  OperationExport,
		Limit:      5,
		Window:     24 * time.Hour,
		RetryAfter: 90 * time.Minute,
	}

	require.ErrorIs(t, err, ErrRateLimit)
	assert.Contains(t, err.Error(), "5 export operations")
	assert.Contains(t, err.Error(), "user 3")

	var rle *RateLimitError
	wrapped := fmt.Errorf("gdpr: %w", err)
	require.True(t, errors.As(wrapped, &rle))
	assert.Equal(t, 90*time.Minute, rle.RetryAfter)
}

func TestIsPreconditionError(t *testing.T) {
	assert.True(t, IsPreconditionError(NewDomainError("op", ErrConfirmationRequired, "")))
	assert.True(t, IsPreconditionError(&RateLimitError{Operation: OperationDelete}))
	assert.True(t, IsPreconditionError(fmt.Errorf("x: %w", ErrConsentRequired)))
	assert.False(t, IsPreconditionError(ErrStorage))
	assert.False(t, IsPreconditionError(errors.New("disk I/O error")))
}

// --- ErrorCode tests ---

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeConfirmationRequired, ErrorCodeOf(ErrConfirmationRequired))
	assert.Equal(t, CodeConsentRequired, ErrorCodeOf(ErrConsentRequired))
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(ErrRateLimit))
	assert.Equal(t, CodeAuditTampered, ErrorCodeOf(ErrAuditTampered))
}

func TestErrorCodeOf_DomainError(t *testing.T) {
	err := NewDomainError("GDPRHandler.DeleteUserData", ErrConfirmationRequired, "")
	assert.Equal(t, CodeConfirmationRequired, ErrorCodeOf(err))
	assert.Equal(t, CodeConfirmationRequired, err.Code())
}

func TestErrorCodeOf_WrappedError(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", ErrDecryption)
	assert.Equal(t, CodeDecryption, ErrorCodeOf(wrapped))
}

func TestErrorCodeOf_RateLimitError(t *testing.T) {
	err := fmt.Errorf("export: %w", &RateLimitError{Operation: OperationExport})
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(err))
}

func TestErrorCodeOf_PreconditionBeatsStorage(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrStorage, ErrConsentRequired)
	assert.Equal(t, CodeConsentRequired, ErrorCodeOf(err))
}

func TestErrorCodeOf_TwoSentinelsIsStable(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrStorage, ErrAuditWrite)
	for i := 0; i < 50; i++ {
		assert.Equal(t, CodeAuditWrite, ErrorCodeOf(err))
	}
}

func TestErrorCodeOrderCoversEverySentinel(t *testing.T) {
	require.Len(t, errorCodeOrder, len(errorCodeMap))
	for _, sentinel := range errorCodeOrder {
		_, ok := errorCodeMap[sentinel]
		assert.True(t, ok, sentinel.Error())
	}
}

func TestErrorCodeOf_UnknownError(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
}

func TestErrorCodeOf_Nil(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestDomainError_CodeUnknownSentinel(t *testing.T) {
	err := NewDomainError("Op", fmt.Errorf("custom"), "detail")
	assert.Equal(t, CodeUnknown, err.Code())
}
