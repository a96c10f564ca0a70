package fingerprint

import (
	"bytes"
	"fmt"
	"image"

	// Registered decoders.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Decode decodes PNG, JPEG, GIF or WebP bytes. It returns the format name
// reported by the decoder. Every failure, including a decoder panic on
// hostile input, is reported as ErrDecode.
func Decode(data []byte) (img image.Image, format string, err error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty input", ErrDecode)
	}

	defer func() {
		if r := recover(); r != nil {
			img, format = nil, ""
			err = fmt.Errorf("%w: decoder panic: %v", ErrDecode, r)
		}
	}()

	img, format, err = image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, format, nil
}
