package embedding

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// inputSize is the square side length the visual encoder expects.
const inputSize = 256

// loadImageTensor decodes the image at path and returns CHW float32 data in
// [0,1], resized to inputSize x inputSize with bilinear sampling. The exported
// model folds mean/std normalization into its first layer, so no further
// normalization happens here.
func loadImageTensor(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return imageToCHW(img), nil
}

func imageToCHW(img image.Image) []float32 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	data := make([]float32, 3*inputSize*inputSize)
	plane := inputSize * inputSize

	for y := 0; y < inputSize; y++ {
		srcY := (float64(y) + 0.5) * float64(h) / inputSize
		y0, fy := bilinearCoords(srcY, h)
		for x := 0; x < inputSize; x++ {
			srcX := (float64(x) + 0.5) * float64(w) / inputSize
			x0, fx := bilinearCoords(srcX, w)

			r, g, b := samplePixel(img, bounds, x0, y0, fx, fy)
			i := y*inputSize + x
			data[i] = r
			data[plane+i] = g
			data[2*plane+i] = b
		}
	}
	return data
}

// bilinearCoords returns the integer base coordinate and the fractional weight
// for sampling at src within [0, size).
func bilinearCoords(src float64, size int) (int, float64) {
	src -= 0.5
	if src < 0 {
		src = 0
	}
	base := int(src)
	if base > size-2 {
		base = size - 2
		if base < 0 {
			base = 0
		}
	}
	return base, src - float64(base)
}

func samplePixel(img image.Image, bounds image.Rectangle, x0, y0 int, fx, fy float64) (float32, float32, float32) {
	x1, y1 := x0+1, y0+1
	if x1 >= bounds.Dx() {
		x1 = x0
	}
	if y1 >= bounds.Dy() {
		y1 = y0
	}
	r00, g00, b00 := rgbAt(img, bounds, x0, y0)
	r10, g10, b10 := rgbAt(img, bounds, x1, y0)
	r01, g01, b01 := rgbAt(img, bounds, x0, y1)
	r11, g11, b11 := rgbAt(img, bounds, x1, y1)

	lerp2 := func(v00, v10, v01, v11 float64) float32 {
		top := v00 + (v10-v00)*fx
		bot := v01 + (v11-v01)*fx
		return float32(top + (bot-top)*fy)
	}
	return lerp2(r00, r10, r01, r11), lerp2(g00, g10, g01, g11), lerp2(b00, b10, b01, b11)
}

func rgbAt(img image.Image, bounds image.Rectangle, x, y int) (float64, float64, float64) {
	r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
	const scale = 1.0 / 0xffff
	return float64(r) * scale, float64(g) * scale, float64(b) * scale
}
