package mockserver

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
)

const (
	frameWidth   = 160
	frameHeight  = 120
	frameQuality = 60
)

// frameRenderer draws a synthetic camera image: a gradient with a bar that moves each tick.
type frameRenderer struct {
	mu   sync.Mutex
	img  *image.RGBA
	buf  bytes.Buffer
	tick int
}

func newFrameRenderer() *frameRenderer {
	return &frameRenderer{img: image.NewRGBA(image.Rect(0, 0, frameWidth, frameHeight))}
}

// Next renders the next frame as a base64 JPEG.
func (f *frameRenderer) Next() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bar := f.tick % frameWidth
	f.tick++

	for y := 0; y < frameHeight; y++ {
		for x := 0; x < frameWidth; x++ {
			c := color.RGBA{R: uint8(x * 255 / frameWidth), G: uint8(y * 255 / frameHeight), B: 96, A: 255}
			if x >= bar && x < bar+8 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			f.img.SetRGBA(x, y, c)
		}
	}

	f.buf.Reset()
	if err := jpeg.Encode(&f.buf, f.img, &jpeg.Options{Quality: frameQuality}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(f.buf.Bytes()), nil
}
