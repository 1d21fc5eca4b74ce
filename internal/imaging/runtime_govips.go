//go:build govips && cgo

package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

// decodeImage lets libvips read the source, which covers HEIF, AVIF and SVG
// on top of the formats Go registers, and hands the pixels back through an
// uncompressed PNG so the raster never depends on vips memory.
func decodeImage(input []byte) (image.Image, error) {
	if err := Startup(); err != nil {
		return nil, err
	}

	ref, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return nil, fmt.Errorf("vips load: %w", err)
	}
	defer ref.Close()

	params := vips.NewPngExportParams()
	params.Compression = 0
	params.StripMetadata = true
	data, _, err := ref.ExportPng(params)
	if err != nil {
		return nil, fmt.Errorf("vips export: %w", err)
	}
	return png.Decode(bytes.NewReader(data))
}
