package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSubmission(t *testing.T) {
	audio := &UploadHandle{Path: "/tmp/a.webm", OriginalName: "a.webm", SizeBytes: 10, MimeType: "audio/webm"}

	tests := []struct {
		name    string
		fields  Fields
		audio   *UploadHandle
		wantErr error
	}{
		{"all absent", Fields{}, nil, ErrEmptySubmission},
		{"whitespace only", Fields{Name: "  ", Email: "\t", Message: "\n"}, nil, nil},
		{"whitespace name", Fields{Name: "   "}, nil, nil},
		{"name only", Fields{Name: "Alice"}, nil, nil},
		{"email only", Fields{Email: "alice@example.com"}, nil, nil},
		{"message only", Fields{Message: "Bonjour"}, nil, nil},
		{"audio only", Fields{}, audio, nil},
		{"everything", Fields{Name: "Alice", Email: "alice@example.com", Message: "Bonjour"}, audio, nil},
		{"invalid email", Fields{Email: "not-an-email"}, nil, ErrInvalidField},
		{"email with display name", Fields{Email: "Alice <alice@example.com>"}, nil, ErrInvalidField},
		{"name too long", Fields{Name: strings.Repeat("a", MaxNameLength+1)}, nil, ErrInvalidField},
		{"message too long", Fields{Message: strings.Repeat("é", MaxMessageLength+1)}, nil, ErrInvalidField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateSubmission(tt.fields, tt.audio)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.audio, got.Audio)
		})
	}
}

func TestValidateSubmission_WhitespaceFieldIsStoredTrimmed(t *testing.T) {
	got, err := ValidateSubmission(Fields{Name: "   ", Message: "\t"}, nil)

	require.NoError(t, err)
	assert.Equal(t, Fields{}, got.Fields)
}

func TestValidateSubmission_DoesNotMutateInput(t *testing.T) {
	fields := Fields{Name: "  Alice  ", Message: " Bonjour\n"}
	copyOf := fields

	got, err := ValidateSubmission(fields, nil)

	require.NoError(t, err)
	assert.Equal(t, copyOf, fields)
	assert.Equal(t, "Alice", got.Fields.Name)
	assert.Equal(t, "Bonjour", got.Fields.Message)
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		valid bool
	}{
		{"Valid email", "test@example.com", true},
		{"Valid email with subdomain", "user@mail.example.com", true},
		{"Valid email with plus", "user+tag@example.com", true},
		{"Invalid - no @", "testexample.com", false},
		{"Invalid - no domain", "test@", false},
		{"Invalid - no local part", "@example.com", false},
		{"Invalid - no dot in domain", "test@localhost", false},
		{"Invalid - spaces", "test @example.com", false},
		{"Invalid - too long", strings.Repeat("a", 250) + "@example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidField)
			}
		})
	}
}

func TestSubmissionStatusTransitions(t *testing.T) {
	sub := NewSubmission(ValidatedSubmission{Fields: Fields{Name: "Alice"}}, fixedTime())
	assert.Equal(t, StatusPending, sub.Status)
	assert.NotEmpty(t, sub.ID)

	sub.MarkSent()
	assert.Equal(t, StatusSent, sub.Status)

	// 终态不可再变更
	sub.MarkFailed()
	assert.Equal(t, StatusSent, sub.Status)
}

func TestErrorKinds(t *testing.T) {
	err := NewValidationError(ValidationFileTooLarge, "audio", "limit 25MB")
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.NotErrorIs(t, err, ErrUnsupportedType)

	mailErr := &MailError{Kind: MailTransient, Detail: "dial", Err: errors.New("connection refused")}
	assert.ErrorIs(t, mailErr, ErrMailTransient)
	assert.True(t, IsTransientMailError(mailErr))
	assert.False(t, IsTransientMailError(&MailError{Kind: MailPermanent}))

	ioErr := NewStorageError("append", errors.New("disk full"))
	assert.ErrorIs(t, ioErr, ErrStorageUnavailable)
	assert.Contains(t, ioErr.Error(), "disk full")
}

func fixedTime() time.Time {
	return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
}
