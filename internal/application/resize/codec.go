package resize

import (
	"bytes"
	"fmt"
	"image"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
)

type format struct {
	mime   string
	config func([]byte) (image.Config, error)
	decode func([]byte) (image.Image, error)
	encode func(image.Image) ([]byte, error)
}

// headerConfig reads dimensions without decoding pixels. imaging registers
// the jpeg, png and gif decoders with the image package.
func headerConfig(data []byte) (image.Config, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	return cfg, err
}

func webpConfig(data []byte) (image.Config, error) {
	return webp.DecodeConfig(bytes.NewReader(data))
}

func decodeWith(f imaging.Format) func([]byte) (image.Image, error) {
	return func(data []byte) (image.Image, error) {
		return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(f == imaging.JPEG))
	}
}

func encodeWith(f imaging.Format, opts ...imaging.EncodeOption) func(image.Image) ([]byte, error) {
	return func(img image.Image) ([]byte, error) {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, f, opts...); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

func decodeWebP(data []byte) (image.Image, error) {
	return webp.Decode(bytes.NewReader(data))
}

func encodeWebP(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// formats maps a sniffed content type to its codec. GIF thumbnails are
// written as PNG.
var formats = map[string]format{
	"image/jpeg": {mime: "image/jpeg", config: headerConfig, decode: decodeWith(imaging.JPEG), encode: encodeWith(imaging.JPEG, imaging.JPEGQuality(90))},
	"image/png":  {mime: "image/png", config: headerConfig, decode: decodeWith(imaging.PNG), encode: encodeWith(imaging.PNG)},
	"image/gif":  {mime: "image/png", config: headerConfig, decode: decodeWith(imaging.GIF), encode: encodeWith(imaging.PNG)},
	"image/webp": {mime: "image/webp", config: webpConfig, decode: decodeWebP, encode: encodeWebP},
}

// sniff detects the content type from the bytes, ignoring whatever the
// store claims.
func sniff(data []byte) (format, error) {
	mt := mimetype.Detect(data)
	f, ok := formats[mt.String()]
	if !ok {
		return format{}, fmt.Errorf("unsupported content type %s", mt.String())
	}
	return f, nil
}
