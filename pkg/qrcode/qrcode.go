// Package qrcode renders enrollment payloads as PNG data URLs.
package qrcode

import (
	"encoding/base64"
	"errors"

	goqrcode "github.com/skip2/go-qrcode"
)

const (
	defaultSize = 300
	dataURLPNG  = "data:image/png;base64,"
)

// Renderer encodes content into a QR PNG.
type Renderer struct {
	size  int
	level goqrcode.RecoveryLevel
}

// NewRenderer returns a renderer producing size x size images. Non-positive
// sizes fall back to 300px.
func NewRenderer(size int) *Renderer {
	if size <= 0 {
		size = defaultSize
	}
	return &Renderer{size: size, level: goqrcode.Medium}
}

// DataURL renders content and returns it as a base64 PNG data URL suitable
// for an <img src>.
func (r *Renderer) DataURL(content []byte) (string, error) {
	if len(content) == 0 {
		return "", errors.New("qr content is empty")
	}
	png, err := goqrcode.Encode(string(content), r.level, r.size)
	if err != nil {
		return "", err
	}
	return dataURLPNG + base64.StdEncoding.EncodeToString(png), nil
}
