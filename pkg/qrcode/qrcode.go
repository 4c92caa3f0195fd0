// Package qrcode renders payment payloads, such as PIX copy-and-paste
// strings, as PNG images. It is a thin wrapper around
// github.com/skip2/go-qrcode with input validation and a data-URI helper
// for clients that embed the image inline instead of uploading bytes.
package qrcode

import (
	"encoding/base64"
	"errors"
	"strings"

	skipqrcode "github.com/skip2/go-qrcode"
)

var (
	ErrEmptyContent     = errors.New("content cannot be empty")
	ErrFailedToGenerate = errors.New("failed to generate qr code")
)

// defaultSize is used when the caller passes a non-positive size.
const defaultSize = 512

// PNG encodes content as a QR code and returns the PNG bytes.
func PNG(content string, size int) ([]byte, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if size <= 0 {
		size = defaultSize
	}
	png, err := skipqrcode.Encode(content, skipqrcode.Medium, size)
	if err != nil {
		return nil, errors.Join(ErrFailedToGenerate, err)
	}
	return png, nil
}

// DataURI encodes content as a QR code and returns it as a
// data:image/png;base64 URI suitable for inline embedding.
func DataURI(content string, size int) (string, error) {
	png, err := PNG(content, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
