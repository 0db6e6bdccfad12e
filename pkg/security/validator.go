package security

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fly-io/imageuploader/pkg/errors"
)

// DefaultMaxPixels bounds the decoded raster of one image (8192x8192).
const DefaultMaxPixels = 8192 * 8192

// Validator guards the values a client controls before they reach the filesystem
type Validator struct {
	maxFrameSize int64
	maxPixels    int64
}

// NewValidator creates a new security validator. A maxPixels of zero or less
// selects DefaultMaxPixels.
func NewValidator(maxFrameSize, maxPixels int64) *Validator {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	slog.Info("security_validator_init", "max_frame_size_mb", maxFrameSize/1024/1024, "max_pixels", maxPixels)

	return &Validator{
		maxFrameSize: maxFrameSize,
		maxPixels:    maxPixels,
	}
}

// MaxFrameSize returns the largest frame a connection may carry
func (v *Validator) MaxFrameSize() int64 {
	return v.maxFrameSize
}

// MaxPixels returns the largest width*height an image may declare
func (v *Validator) MaxPixels() int64 {
	return v.maxPixels
}

// ValidateSegment checks that an identity field can be used as a single
// directory name under the image root.
// Absolute values, separators and dot segments would let a client write
// outside its own namespace.
func (v *Validator) ValidateSegment(field, value string) error {
	if value == "" {
		slog.Error("security_segment_validation_failed", "field", field, "reason", "empty")
		return fmt.Errorf("%w: %s is empty", errors.ErrCredential, field)
	}

	if filepath.IsAbs(value) || strings.ContainsAny(value, `/\`) {
		slog.Error("security_segment_validation_failed", "field", field, "value", value, "reason", "separator")
		return fmt.Errorf("%w: %s contains a path separator: %q", errors.ErrCredential, field, value)
	}

	if value == "." || value == ".." {
		slog.Error("security_segment_validation_failed", "field", field, "value", value, "reason", "path_traversal")
		return fmt.Errorf("%w: %s is a dot segment: %q", errors.ErrCredential, field, value)
	}

	if strings.ContainsRune(value, 0) {
		slog.Error("security_segment_validation_failed", "field", field, "reason", "nul_byte")
		return fmt.Errorf("%w: %s contains a NUL byte", errors.ErrCredential, field)
	}

	return nil
}

// ValidateFrameSize checks if a frame exceeds the max frame size
func (v *Validator) ValidateFrameSize(size int64) error {
	if size > v.maxFrameSize {
		slog.Error("security_frame_size_exceeded",
			"frame_size_mb", size/1024/1024,
			"max_frame_size_mb", v.maxFrameSize/1024/1024)
		return fmt.Errorf("%w: frame size %d exceeds max %d", errors.ErrTransport, size, v.maxFrameSize)
	}
	return nil
}

// ValidateDimensions checks an image's declared size before its raster is
// allocated. The compressed frame says nothing about how large the decoded
// image will be.
func (v *Validator) ValidateDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d", errors.ErrDecode, width, height)
	}
	if pixels := int64(width) * int64(height); pixels > v.maxPixels {
		slog.Error("security_pixel_limit_exceeded",
			"width", width,
			"height", height,
			"max_pixels", v.maxPixels)
		return fmt.Errorf("%w: image %dx%d exceeds %d pixels", errors.ErrDecode, width, height, v.maxPixels)
	}
	return nil
}
