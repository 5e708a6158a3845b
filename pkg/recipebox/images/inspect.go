package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder

	"github.com/bbrks/go-blurhash"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// blurHashSize bounds the thumbnail the placeholder is computed from.
const blurHashSize = 64

var ErrNotImage = errors.New("upload a valid image")

// Info describes a decoded upload.
type Info struct {
	Format   string // as reported by image.Decode: jpeg, png, gif, webp
	Ext      string
	Width    int
	Height   int
	BlurHash string
}

var extensions = map[string]string{
	"jpeg": "jpg",
	"png":  "png",
	"gif":  "gif",
	"webp": "webp",
}

// Inspect decodes data and computes its BlurHash. Payloads that are not a
// supported image fail with ErrNotImage.
func Inspect(data []byte) (*Info, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	ext, ok := extensions[format]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported format %s", ErrNotImage, format)
	}

	hash, err := blurhash.Encode(4, 3, thumbnail(img))
	if err != nil {
		return nil, fmt.Errorf("encode blurhash: %w", err)
	}

	b := img.Bounds()
	return &Info{Format: format, Ext: ext, Width: b.Dx(), Height: b.Dy(), BlurHash: hash}, nil
}

// thumbnail scales img to fit in blurHashSize square, keeping aspect ratio.
func thumbnail(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= blurHashSize && h <= blurHashSize {
		return img
	}

	dw, dh := blurHashSize, blurHashSize
	if w > h {
		dh = max(1, h*blurHashSize/w)
	} else {
		dw = max(1, w*blurHashSize/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
