package service

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// MaskProcessor 负责处理叶片前景掩码
type MaskProcessor struct{}

func NewMaskProcessor() *MaskProcessor {
	return &MaskProcessor{}
}

// Binarize 按阈值将 alpha 通道二值化为 {0,255}
func (mp *MaskProcessor) Binarize(alpha *gocv.Mat, threshold int) gocv.Mat {
	binary := gocv.NewMat()
	gocv.Threshold(*alpha, &binary, float32(threshold), 255, gocv.ThresholdBinary)
	return binary
}

// Close 形态学闭运算：先膨胀 iterations 次，再腐蚀 iterations 次
func (mp *MaskProcessor) Close(mask *gocv.Mat, kernelSize, iterations int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: kernelSize, Y: kernelSize})
	defer kernel.Close()

	closed := mask.Clone()
	for i := 0; i < iterations; i++ {
		gocv.Dilate(closed, &closed, kernel)
	}
	for i := 0; i < iterations; i++ {
		gocv.Erode(closed, &closed, kernel)
	}
	return closed
}

// FillContours 填充外轮廓
//
// 先填充面积最大的轮廓，再逐个填充全部轮廓（包括最大者），
// 结果是所有外轮廓的并集。没有轮廓时返回输入掩码的副本。
func (mp *MaskProcessor) FillContours(mask *gocv.Mat) gocv.Mat {
	contours := gocv.FindContours(*mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	if contours.Size() == 0 {
		return mask.Clone()
	}

	maxArea := 0.0
	maxIndex := 0
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > maxArea {
			maxArea = area
			maxIndex = i
		}
	}

	refined := gocv.Zeros(mask.Rows(), mask.Cols(), gocv.MatTypeCV8U)
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	gocv.DrawContours(&refined, contours, maxIndex, white, -1)

	// 保留其余区域（病斑等）
	for i := 0; i < contours.Size(); i++ {
		gocv.DrawContours(&refined, contours, i, white, -1)
	}

	return refined
}

// Composite 以白色为背景合成前景
//
// 掩码只含 0 和 255，rgb*m + white*(1-m) 退化为按掩码拷贝。
func (mp *MaskProcessor) Composite(rgb, mask *gocv.Mat) (gocv.Mat, error) {
	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), rgb.Rows(), rgb.Cols(), gocv.MatTypeCV8UC3)
	if err := rgb.CopyToWithMask(&canvas, *mask); err != nil {
		canvas.Close()
		return gocv.NewMat(), err
	}
	return canvas, nil
}
