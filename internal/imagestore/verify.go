package imagestore

import (
	"bytes"
	"errors"
	"image"

	// Decoders accepted for uploaded photos.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUndecodable is returned by Verify when the bytes are not a known image format.
var ErrUndecodable = errors.New("file is not a decodable image")

// Verify checks that data decodes as an image header and returns its format.
// Only the header is parsed; the bytes are stored verbatim afterwards.
func Verify(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrUndecodable
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return "", ErrUndecodable
	}
	return format, nil
}
