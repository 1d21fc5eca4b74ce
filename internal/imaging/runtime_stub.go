//go:build !govips || !cgo

package imaging

import "image"

func Startup() error {
	return nil
}

func Shutdown() {}

func decodeImage(input []byte) (image.Image, error) {
	return decodeStd(input)
}
