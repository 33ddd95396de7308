package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "ojeval/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{SubmissionNotFound, "Submission not found"},
		{LeaderboardLockTimeout, "Leaderboard is busy, please retry"},
		{InvalidParams, "Invalid parameters"},
		{DatabaseError, "Database operation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{Unauthorized, 401},
		{Forbidden, 403},
		{NotFound, 404},
		{TooManyRequests, 429},
		{InternalServerError, 500},
		{SubmissionNotFound, 404},
		{SubmissionNotTerminal, 409},
		{SubmitTooFrequently, 429},
		{LeaderboardLockTimeout, 503},
		{ExecutorUnavailable, 503},
		{CodeTooLarge, 400},
		{RequiredFieldEmpty, 400},
		{SimilarityCheckFailed, 500},
		{ErrorCode(19999), 500},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestNew(t *testing.T) {
	err := New(SubmissionNotFound)

	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	if err.Code != SubmissionNotFound {
		t.Errorf("Code = %v, want %v", err.Code, SubmissionNotFound)
	}

	if err.Error() != SubmissionNotFound.Message() {
		t.Errorf("Error() = %v, want %v", err.Error(), SubmissionNotFound.Message())
	}
}

func TestNewf(t *testing.T) {
	id := int64(123)
	err := Newf(SubmissionNotFound, "submission %d not found", id)

	want := "submission 123 not found"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("connection refused")
	wrappedErr := Wrap(originalErr, DatabaseError)

	if wrappedErr.Code != DatabaseError {
		t.Errorf("Code = %v, want %v", wrappedErr.Code, DatabaseError)
	}

	if wrappedErr.Unwrap() != originalErr {
		t.Error("Unwrap() should return original error")
	}
}

func TestError_WithDetail(t *testing.T) {
	err := New(ValidationFailed).
		WithDetail("field", "email").
		WithDetail("reason", "invalid format")

	if err.Details["field"] != "email" {
		t.Error("Field detail not set correctly")
	}

	if err.Details["reason"] != "invalid format" {
		t.Error("Reason detail not set correctly")
	}
}

func TestError_WithMessage(t *testing.T) {
	customMsg := "custom error message"
	err := New(InternalServerError).WithMessage(customMsg)

	if err.Error() != customMsg {
		t.Errorf("Error() = %v, want %v", err.Error(), customMsg)
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{
			name: "nil error",
			err:  nil,
			want: Success,
		},
		{
			name: "custom error",
			err:  New(SubmissionNotFound),
			want: SubmissionNotFound,
		},
		{
			name: "standard error",
			err:  errors.New("standard error"),
			want: InternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := New(SubmissionNotFound)

	if !Is(err, SubmissionNotFound) {
		t.Error("Is() should return true for matching code")
	}

	if Is(err, DatabaseError) {
		t.Error("Is() should return false for non-matching code")
	}

	if Is(nil, SubmissionNotFound) {
		t.Error("Is() should return false for nil error")
	}
}

func TestWrapKeepsCodeThroughChain(t *testing.T) {
	inner := New(ExecutorTimeout)
	outer := fmt.Errorf("run batch: %w", inner)

	if GetCode(outer) != ExecutorTimeout {
		t.Errorf("GetCode() = %v, want %v", GetCode(outer), ExecutorTimeout)
	}
	if !Is(outer, ExecutorTimeout) {
		t.Error("Is() should see the code through fmt wrapping")
	}
}

func TestExecutorFault(t *testing.T) {
	if got := ExecutorFault(nil, "bad body").Code; got != ExecutorMalformedResponse {
		t.Errorf("nil cause code = %v, want %v", got, ExecutorMalformedResponse)
	}
	if got := ExecutorFault(errors.New("dial tcp"), "call gojudge").Code; got != ExecutorUnavailable {
		t.Errorf("transport cause code = %v, want %v", got, ExecutorUnavailable)
	}
}

func TestWrapCopiesCodedError(t *testing.T) {
	original := New(SubmissionNotFound)
	wrapped := Wrap(original, DatabaseError)

	if wrapped.Code != DatabaseError {
		t.Errorf("Code = %v, want %v", wrapped.Code, DatabaseError)
	}
	if original.Code != SubmissionNotFound {
		t.Errorf("original code changed to %v", original.Code)
	}
	if wrapped.Error() != original.Error() {
		t.Errorf("message = %q, want %q", wrapped.Error(), original.Error())
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError("language", "unsupported")
	if err.Code != ValidationFailed || err.Code.HTTPStatus() != 400 {
		t.Errorf("Code = %v", err.Code)
	}
	if err.Details["field"] != "language" || err.Details["reason"] != "unsupported" {
		t.Errorf("Details = %v", err.Details)
	}
	if err.Error() != "language: unsupported" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestGetErrorWrapsForeign(t *testing.T) {
	cause := errors.New("disk full")
	got := GetError(cause)
	if got.Code != InternalServerError || !errors.Is(got, cause) {
		t.Errorf("GetError() = %+v", got)
	}
	if GetError(nil) != nil {
		t.Error("GetError(nil) should be nil")
	}
}
