package imaging

import (
	"image"
	"strings"

	"github.com/dunamismax/pixelmix/internal/random"
)

type FlipMode uint8

const (
	FlipNone FlipMode = iota
	FlipHorizontal
	FlipVertical
	FlipBoth
)

func (m FlipMode) String() string {
	switch m {
	case FlipHorizontal:
		return "horizontal"
	case FlipVertical:
		return "vertical"
	case FlipBoth:
		return "both"
	default:
		return "none"
	}
}

// FlipModeNames lists the accepted spellings for error messages.
const FlipModeNames = "none, horizontal, vertical, both (or 0-3)"

// LookupFlipMode resolves a flip mode by name or number, case-insensitively.
// The empty string is FlipNone. ok is false for anything else.
func LookupFlipMode(name string) (mode FlipMode, ok bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "0":
		return FlipNone, true
	case "horizontal", "1":
		return FlipHorizontal, true
	case "vertical", "2":
		return FlipVertical, true
	case "both", "3":
		return FlipBoth, true
	default:
		return FlipNone, false
	}
}

// ParseFlipMode is LookupFlipMode with unknown names mapped to FlipNone.
func ParseFlipMode(name string) FlipMode {
	mode, _ := LookupFlipMode(name)
	return mode
}

// Flip mirrors img in place. Unknown modes are a no-op.
func Flip(img *image.NRGBA, mode FlipMode) {
	switch mode {
	case FlipHorizontal:
		flipHorizontal(img)
	case FlipVertical:
		flipVertical(img)
	case FlipBoth:
		flipHorizontal(img)
		flipVertical(img)
	}
}

func flipHorizontal(img *image.NRGBA) {
	rowLen := img.Rect.Dx() * 4
	for y := 0; y < img.Rect.Dy(); y++ {
		i := y * img.Stride
		reversePixels(img.Pix[i : i+rowLen])
	}
}

func flipVertical(img *image.NRGBA) {
	rowLen := img.Rect.Dx() * 4
	tmp := make([]byte, rowLen)
	for top, bottom := 0, img.Rect.Dy()-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := img.Pix[top*img.Stride : top*img.Stride+rowLen]
		b := img.Pix[bottom*img.Stride : bottom*img.Stride+rowLen]
		copy(tmp, a)
		copy(a, b)
		copy(b, tmp)
	}
}

func reversePixels(pix []byte) {
	for i, j := 0, len(pix)-4; i < j; i, j = i+4, j-4 {
		pi := pix[i : i+4 : i+4]
		pj := pix[j : j+4 : j+4]
		pi[0], pj[0] = pj[0], pi[0]
		pi[1], pj[1] = pj[1], pi[1]
		pi[2], pj[2] = pj[2], pi[2]
		pi[3], pj[3] = pj[3], pi[3]
	}
}

// MutatePixel nudges the R, G and B channels of one randomly chosen pixel by
// one step: up, or down when the channel is already 255. Alpha is left alone.
// x is drawn before y. It reports false for empty images.
func MutatePixel(img *image.NRGBA, src random.Source) (image.Point, bool) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w == 0 || h == 0 {
		return image.Point{}, false
	}

	x := random.Index(src, w)
	y := random.Index(src, h)
	i := img.PixOffset(img.Rect.Min.X+x, img.Rect.Min.Y+y)
	for c := 0; c < 3; c++ {
		if img.Pix[i+c] < 255 {
			img.Pix[i+c]++
		} else {
			img.Pix[i+c]--
		}
	}
	return image.Pt(x, y), true
}
