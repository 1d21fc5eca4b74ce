package imaging

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"io"

	"github.com/klauspost/compress/zlib"
)

const (
	pngHeader     = "\x89PNG\r\n\x1a\n"
	idatChunkSize = 1 << 15
	bytesPerPixel = 4
)

const (
	filterNone = iota
	filterSub
	filterUp
	filterAverage
	filterPaeth
	numFilters
)

type pngWriter struct {
	w      io.Writer
	err    error
	header [8]byte
	footer [4]byte
}

func writePNG(w io.Writer, img *image.NRGBA, tier Tier) error {
	e := &pngWriter{w: w}
	_, e.err = io.WriteString(w, pngHeader)

	width, height := img.Rect.Dx(), img.Rect.Dy()
	var ihdr [13]byte
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(width))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(height))
	ihdr[8] = 8  // bit depth
	ihdr[9] = 6  // truecolour with alpha
	ihdr[10] = 0 // deflate
	ihdr[11] = 0 // adaptive filtering
	ihdr[12] = 0 // no interlace
	e.writeChunk("IHDR", ihdr[:])

	if e.err == nil {
		data, err := compressRows(img, tier)
		if err != nil {
			return err
		}
		for len(data) > 0 {
			n := min(len(data), idatChunkSize)
			e.writeChunk("IDAT", data[:n])
			data = data[n:]
		}
	}

	e.writeChunk("IEND", nil)
	return e.err
}

func (e *pngWriter) writeChunk(name string, data []byte) {
	if e.err != nil {
		return
	}

	binary.BigEndian.PutUint32(e.header[:4], uint32(len(data)))
	copy(e.header[4:], name)
	crc := crc32.NewIEEE()
	crc.Write(e.header[4:8])
	crc.Write(data)
	binary.BigEndian.PutUint32(e.footer[:], crc.Sum32())

	if _, e.err = e.w.Write(e.header[:]); e.err != nil {
		return
	}
	if _, e.err = e.w.Write(data); e.err != nil {
		return
	}
	_, e.err = e.w.Write(e.footer[:])
}

func compressRows(img *image.NRGBA, tier Tier) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, tier.zlibLevel())
	if err != nil {
		return nil, err
	}

	rowLen := img.Rect.Dx() * bytesPerPixel
	var candidates [numFilters][]byte
	for i := range candidates {
		candidates[i] = make([]byte, 1+rowLen)
		candidates[i][0] = byte(i)
	}
	prev := make([]byte, rowLen)

	for y := 0; y < img.Rect.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+rowLen]
		best := filterRow(&candidates, row, prev)
		if _, err := zw.Write(candidates[best]); err != nil {
			return nil, err
		}
		prev = row
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// filterRow fills every candidate with row filtered against prev and returns
// the filter whose residuals have the smallest sum of absolute signed values.
// Ties go to the lower filter type.
func filterRow(candidates *[numFilters][]byte, row, prev []byte) int {
	none := candidates[filterNone][1:]
	sub := candidates[filterSub][1:]
	up := candidates[filterUp][1:]
	avg := candidates[filterAverage][1:]
	paeth := candidates[filterPaeth][1:]

	var sums [numFilters]int
	for i := range row {
		var left, upperLeft byte
		if i >= bytesPerPixel {
			left = row[i-bytesPerPixel]
			upperLeft = prev[i-bytesPerPixel]
		}
		above := prev[i]
		cur := row[i]

		none[i] = cur
		sub[i] = cur - left
		up[i] = cur - above
		avg[i] = cur - byte((int(left)+int(above))/2)
		paeth[i] = cur - paethPredictor(left, above, upperLeft)

		sums[filterNone] += absResidual(none[i])
		sums[filterSub] += absResidual(sub[i])
		sums[filterUp] += absResidual(up[i])
		sums[filterAverage] += absResidual(avg[i])
		sums[filterPaeth] += absResidual(paeth[i])
	}

	best := filterNone
	for f := filterSub; f < numFilters; f++ {
		if sums[f] < sums[best] {
			best = f
		}
	}
	return best
}

func paethPredictor(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa := abs(p - int(a))
	pb := abs(p - int(b))
	pc := abs(p - int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	default:
		return c
	}
}

func absResidual(v byte) int {
	return abs(int(int8(v)))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
