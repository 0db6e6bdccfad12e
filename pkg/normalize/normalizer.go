// Package normalize decodes uploaded images and re-encodes them losslessly
// into the canonical on-disk format.
package normalize

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp"

	"github.com/fly-io/imageuploader/pkg/errors"
)

// Extension is the file extension of the canonical format.
const Extension = "png"

// DefaultCompression is the PNG compression level used by the server.
const DefaultCompression = png.DefaultCompression

// Result describes one normalized image on disk.
type Result struct {
	ID       string
	Filepath string
	Size     int
}

// Limits rejects images whose declared size is too large to decode.
// *security.Validator satisfies it.
type Limits interface {
	ValidateDimensions(width, height int) error
}

// Normalizer converts arbitrary image payloads into canonical files.
type Normalizer struct {
	compression png.CompressionLevel
	limits      Limits
}

// NewNormalizer creates a normalizer writing PNG at the given compression level.
func NewNormalizer(compression png.CompressionLevel, limits Limits) *Normalizer {
	return &Normalizer{compression: compression, limits: limits}
}

// Path returns where an image with id is stored inside dir.
func Path(dir, id string) string {
	return filepath.Join(dir, id+"."+Extension)
}

// Normalize decodes data, re-encodes it and writes it to dir under a fresh id.
// The directory must already exist.
func (n *Normalizer) Normalize(data []byte, dir string) (*Result, error) {
	img, err := n.decode(data)
	if err != nil {
		slog.Error("normalize_decode_failed", "dir", dir, "size", len(data), "error", err)
		return nil, err
	}

	encoded, err := n.encode(img)
	if err != nil {
		slog.Error("normalize_encode_failed", "dir", dir, "bounds", img.Bounds().String(), "error", err)
		return nil, err
	}

	id := uuid.NewString()
	path := Path(dir, id)
	if err := os.WriteFile(path, encoded, 0644); err != nil {
		slog.Error("normalize_write_failed", "filepath", path, "error", err)
		return nil, errors.Wrap(err, "failed to write image")
	}

	slog.Info("normalize_complete", "id", id, "filepath", path, "input_size", len(data), "output_size", len(encoded))

	return &Result{
		ID:       id,
		Filepath: path,
		Size:     len(encoded),
	}, nil
}

// decode reads the header first so an oversized raster is refused before
// it is allocated.
func (n *Normalizer) decode(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrDecode, err)
	}
	if err := n.limits.ValidateDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrDecode, err)
	}
	return img, nil
}

func (n *Normalizer) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(n.compression)); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrEncode, err)
	}
	return buf.Bytes(), nil
}
