package service

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// AspectPreservingResizer 等比缩放后居中放置在白色画布上
type AspectPreservingResizer struct{}

func NewAspectPreservingResizer() *AspectPreservingResizer {
	return &AspectPreservingResizer{}
}

// Resize 缩放到 width x height，不拉伸；余量按整除分配，多出的一个像素落在右侧/底部
func (r *AspectPreservingResizer) Resize(img gocv.Mat, width, height int) (gocv.Mat, error) {
	if err := checkRGB(img); err != nil {
		return gocv.NewMat(), err
	}

	srcH, srcW := img.Rows(), img.Cols()
	scale := math.Min(float64(height)/float64(srcH), float64(width)/float64(srcW))
	newH, newW := int(float64(srcH)*scale), int(float64(srcW)*scale)
	if newW <= 0 || newH <= 0 {
		return gocv.NewMat(), fmt.Errorf("scaled size %dx%d is empty for source %dx%d", newW, newH, srcW, srcH)
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Point{X: newW, Y: newH}, 0, 0, gocv.InterpolationLinear)

	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), height, width, gocv.MatTypeCV8UC3)

	offsetY := (height - newH) / 2
	offsetX := (width - newW) / 2
	roi := canvas.Region(image.Rect(offsetX, offsetY, offsetX+newW, offsetY+newH))
	defer roi.Close()
	if err := resized.CopyTo(&roi); err != nil {
		canvas.Close()
		return gocv.NewMat(), err
	}

	return canvas, nil
}
