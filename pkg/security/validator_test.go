package security

import (
	"testing"

	"github.com/fly-io/imageuploader/pkg/errors"
)

func TestValidateSegment(t *testing.T) {
	v := NewValidator(1024, 0)

	tests := []struct {
		value     string
		shouldErr bool
	}{
		{"acme", false},
		{"mission-42", false},
		{"jane.doe", false},
		{"", true},
		{".", true},
		{"..", true},
		{"../etc", true},
		{"/etc", true},
		{"a/b", true},
		{`a\b`, true},
		{"a\x00b", true},
	}

	for _, tt := range tests {
		err := v.ValidateSegment("organization", tt.value)
		if tt.shouldErr && err == nil {
			t.Errorf("expected error for value: %q", tt.value)
		}
		if !tt.shouldErr && err != nil {
			t.Errorf("unexpected error for value %q: %v", tt.value, err)
		}
		if err != nil && !errors.Is(err, errors.ErrCredential) {
			t.Errorf("expected credential error for %q, got: %v", tt.value, err)
		}
	}
}

func TestValidateFrameSize(t *testing.T) {
	v := NewValidator(100, 0)

	if err := v.ValidateFrameSize(50); err != nil {
		t.Errorf("expected no error for size 50, got: %v", err)
	}

	if err := v.ValidateFrameSize(100); err != nil {
		t.Errorf("expected no error for size at the limit, got: %v", err)
	}

	err := v.ValidateFrameSize(150)
	if err == nil {
		t.Fatal("expected error for size 150 exceeding limit 100")
	}
	if !errors.Is(err, errors.ErrTransport) {
		t.Errorf("expected transport error, got: %v", err)
	}
}

func TestMaxFrameSize(t *testing.T) {
	if got := NewValidator(4096, 0).MaxFrameSize(); got != 4096 {
		t.Errorf("expected 4096, got %d", got)
	}
}

func TestValidateDimensions(t *testing.T) {
	v := NewValidator(1024, 100*100)

	tests := []struct {
		width, height int
		shouldErr     bool
	}{
		{1, 1, false},
		{100, 100, false},
		{10000, 1, false},
		{101, 100, true},
		{100000, 100000, true},
		{0, 10, true},
		{10, -1, true},
	}

	for _, tt := range tests {
		err := v.ValidateDimensions(tt.width, tt.height)
		if tt.shouldErr && err == nil {
			t.Errorf("expected error for %dx%d", tt.width, tt.height)
		}
		if !tt.shouldErr && err != nil {
			t.Errorf("unexpected error for %dx%d: %v", tt.width, tt.height, err)
		}
		if err != nil && !errors.Is(err, errors.ErrDecode) {
			t.Errorf("expected decode error for %dx%d, got: %v", tt.width, tt.height, err)
		}
	}
}

func TestMaxPixelsDefault(t *testing.T) {
	if got := NewValidator(4096, 0).MaxPixels(); got != DefaultMaxPixels {
		t.Errorf("expected %d, got %d", DefaultMaxPixels, got)
	}
	if got := NewValidator(4096, 500).MaxPixels(); got != 500 {
		t.Errorf("expected 500, got %d", got)
	}
}
