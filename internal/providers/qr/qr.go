// Package qr renders check-in QR codes for enrollments.
package qr

import (
	"errors"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const DefaultSize = 256

var ErrEmptyContent = errors.New("qr_empty_content")

// CheckInContent is the payload staff scanners resolve back to an
// enrollment.
func CheckInContent(baseURL, enrollmentID string) string {
	return fmt.Sprintf("%s/checkin/%s", baseURL, enrollmentID)
}

// PNG encodes content as a square PNG of size pixels.
func PNG(content string, size int) ([]byte, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}
	if size <= 0 {
		size = DefaultSize
	}
	png, err := qrcode.Encode(content, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
