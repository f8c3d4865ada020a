package embedding

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"

	"github.com/hyperjump/shashin/internal/models"
)

// clipInputSize is the side length of the square input the CLIP image tower expects.
const clipInputSize = 224

// detectorInputSize is the side length of the square face detector input.
const detectorInputSize = 640

// CLIP ViT-B-32 normalization constants (per channel, RGB).
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// LoadImage reads and decodes the image at path. Unreadable or undecodable
// files are input errors, distinguishable from model failures.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", models.ErrInput, path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", models.ErrInput, path, err)
	}
	return img, nil
}

// CropBBox returns the sub-image covered by bbox, clamped to the image bounds.
// Returns an input error for degenerate crops (smaller than 10px a side).
func CropBBox(img image.Image, bbox models.BBox) (image.Image, error) {
	b := img.Bounds()
	r := image.Rect(bbox.X1, bbox.Y1, bbox.X2, bbox.Y2).Intersect(b)
	if r.Dx() < 10 || r.Dy() < 10 {
		return nil, fmt.Errorf("%w: face crop too small (%dx%d)", models.ErrInput, r.Dx(), r.Dy())
	}
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out, nil
}

// PreprocessCLIP resizes img to the CLIP input size and returns a normalized
// CHW float tensor (3 x 224 x 224) ready for the image tower.
func PreprocessCLIP(img image.Image) []float32 {
	resized := image.NewRGBA(image.Rect(0, 0, clipInputSize, clipInputSize))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Over, nil)

	const plane = clipInputSize * clipInputSize
	out := make([]float32, 3*plane)
	i := 0
	for y := 0; y < clipInputSize; y++ {
		for x := 0; x < clipInputSize; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			out[i] = (float32(r>>8)/255.0 - clipMean[0]) / clipStd[0]
			out[plane+i] = (float32(g>>8)/255.0 - clipMean[1]) / clipStd[1]
			out[2*plane+i] = (float32(b>>8)/255.0 - clipMean[2]) / clipStd[2]
			i++
		}
	}
	return out
}

// preprocessDetector resizes img to the detector input size and returns a CHW
// float tensor with pixel values scaled to [0,1].
func preprocessDetector(img image.Image) []float32 {
	resized := image.NewRGBA(image.Rect(0, 0, detectorInputSize, detectorInputSize))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Over, nil)

	const plane = detectorInputSize * detectorInputSize
	out := make([]float32, 3*plane)
	i := 0
	for y := 0; y < detectorInputSize; y++ {
		for x := 0; x < detectorInputSize; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			out[i] = float32(r>>8) / 255.0
			out[plane+i] = float32(g>>8) / 255.0
			out[2*plane+i] = float32(b>>8) / 255.0
			i++
		}
	}
	return out
}
