// Package qrimage renders payload strings as QR code images.
package qrimage

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// ContentType of images produced by PNGEncoder.
const ContentType = "image/png"

// PNGEncoder renders PNG QR codes of a fixed pixel size.
type PNGEncoder struct {
	Size  int
	Level qrcode.RecoveryLevel
}

// NewPNGEncoder returns an encoder with medium error correction.
func NewPNGEncoder(size int) *PNGEncoder {
	if size <= 0 {
		size = 256
	}
	return &PNGEncoder{Size: size, Level: qrcode.Medium}
}

// Encode returns the PNG bytes for payload. The same payload always yields the same image.
func (e *PNGEncoder) Encode(payload string) ([]byte, error) {
	png, err := qrcode.Encode(payload, e.Level, e.Size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
