package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultMaxDecodeBytes caps the RGBA raster a header may ask for.
const DefaultMaxDecodeBytes int64 = 512 << 20

var (
	ErrDecode = errors.New("decode image")
	ErrEncode = errors.New("encode image")
)

// Decode sniffs the format from content and returns a straight-alpha RGBA
// raster anchored at (0,0) with no row padding.
func Decode(input []byte) (*image.NRGBA, error) {
	return DecodeLimited(input, DefaultMaxDecodeBytes)
}

// DecodeLimited is Decode with an explicit cap on the decoded raster size in
// bytes. The cap is checked against the declared dimensions before any
// pixels are allocated. A limit <= 0 selects DefaultMaxDecodeBytes.
func DecodeLimited(input []byte, limit int64) (*image.NRGBA, error) {
	if len(input) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	if limit <= 0 {
		limit = DefaultMaxDecodeBytes
	}
	if err := checkDimensions(input, limit); err != nil {
		return nil, err
	}

	src, err := decodeImage(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return toNRGBA(src), nil
}

// Encode writes img as an 8-bit RGBA PNG at the given tier.
func Encode(img *image.NRGBA, tier Tier) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil raster", ErrEncode)
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrEncode, w, h)
	}
	if img.Stride != 4*w || len(img.Pix) != 4*w*h {
		return nil, fmt.Errorf("%w: buffer length %d does not match %dx%d", ErrEncode, len(img.Pix), w, h)
	}

	var buf bytes.Buffer
	if err := writePNG(&buf, img, tier); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// checkDimensions rejects headers whose RGBA raster would exceed limit.
// Formats Go cannot read a header for are left to the decoder.
func checkDimensions(input []byte, limit int64) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(input))
	if err != nil {
		return nil
	}
	if cfg.Width < 0 || cfg.Height < 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}
	if size := int64(cfg.Width) * int64(cfg.Height) * 4; size > limit {
		return fmt.Errorf("%w: %dx%d needs %d bytes, limit is %d", ErrDecode, cfg.Width, cfg.Height, size, limit)
	}
	return nil
}

func decodeStd(input []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, err
	}
	return img, nil
}

func toNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	n, straight := src.(*image.NRGBA)
	if straight && b.Min == (image.Point{}) && n.Stride == 4*b.Dx() {
		return n
	}

	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	// Straight-alpha sources are copied row by row; draw would round-trip
	// them through premultiplied values.
	if straight {
		for y := 0; y < b.Dy(); y++ {
			copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], n.Pix[n.PixOffset(b.Min.X, b.Min.Y+y):])
		}
		return dst
	}

	// 16-bit straight alpha rounds to the nearest 8-bit value.
	if wide, ok := src.(*image.NRGBA64); ok {
		for y := 0; y < b.Dy(); y++ {
			row := wide.Pix[wide.PixOffset(b.Min.X, b.Min.Y+y):]
			out := dst.Pix[y*dst.Stride : (y+1)*dst.Stride]
			for i := range out {
				v := uint32(row[2*i])<<8 | uint32(row[2*i+1])
				out[i] = uint8((v + 128) / 257)
			}
		}
		return dst
	}

	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}
