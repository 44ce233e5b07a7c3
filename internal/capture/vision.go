package capture

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/draw"
	"image/jpeg"
	"math"

	"github.com/kbinani/screenshot"
)

// Один кадр для vision-триггера: объединённые границы всех мониторов,
// даунскейл до 1280 по ширине, JPEG quality=90.

const visionMaxWidth = 1280

// GrabScreen снимает весь виртуальный экран и возвращает JPEG в base64
// для передачи воркеру в context.image.
func GrabScreen() (string, error) {
	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		return "", errors.New("capture: no active displays")
	}

	union := image.Rect(0, 0, 0, 0)
	for i := range n {
		b := screenshot.GetDisplayBounds(i)
		if i == 0 {
			union = b
			continue
		}
		union = union.Union(b)
	}

	canvas := image.NewRGBA(union)
	captured := 0
	for i := range n {
		b := screenshot.GetDisplayBounds(i)
		img, err := screenshot.CaptureRect(b)
		if err != nil {
			continue
		}
		dstPoint := image.Pt(b.Min.X-union.Min.X, b.Min.Y-union.Min.Y)
		dstRect := image.Rectangle{Min: dstPoint, Max: dstPoint.Add(b.Size())}
		draw.Draw(canvas, dstRect, img, image.Point{}, draw.Src)
		captured++
	}
	if captured == 0 {
		return "", errors.New("capture: all displays failed")
	}

	outImg := image.Image(canvas)
	if w := canvas.Bounds().Dx(); w > visionMaxWidth {
		h := canvas.Bounds().Dy()
		scale := float64(visionMaxWidth) / float64(w)
		newW := int(math.Round(float64(w) * scale))
		newH := int(math.Round(float64(h) * scale))
		if newW <= 0 {
			newW = 1
		}
		if newH <= 0 {
			newH = 1
		}
		outImg = resizeNearest(canvas, newW, newH)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, outImg, &jpeg.Options{Quality: 90}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// resizeNearest выполняет масштабирование изображения методом ближайшего соседа
func resizeNearest(src image.Image, width int, height int) *image.RGBA {
	if width <= 0 || height <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	srcBounds := src.Bounds()
	srcW := srcBounds.Dx()
	srcH := srcBounds.Dy()
	if srcW == 0 || srcH == 0 {
		return image.NewRGBA(image.Rect(0, 0, width, height))
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		srcY := srcBounds.Min.Y + y*srcH/height
		for x := range width {
			srcX := srcBounds.Min.X + x*srcW/width
			dst.Set(x, y, src.At(srcX, srcY))
		}
	}
	return dst
}
