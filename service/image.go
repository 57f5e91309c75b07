package service

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

var (
	// ErrDecode 上传内容不是可解码的图片
	ErrDecode = errors.New("image could not be decoded")
	// ErrEmptyImage 图像为空或通道数不符
	ErrEmptyImage = errors.New("image is empty or not 3-channel")
	// ErrDimensionMismatch 抠图结果尺寸与输入不一致
	ErrDimensionMismatch = errors.New("matting result dimensions differ from input")
)

// DecodeRGB 将上传字节解码为 RGB 顺序的 8UC3 Mat
func DecodeRGB(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), ErrDecode
	}
	bgr, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(ErrDecode, err.Error())
	}
	defer bgr.Close()
	if bgr.Empty() {
		return gocv.NewMat(), ErrDecode
	}

	rgb := gocv.NewMat()
	gocv.CvtColor(bgr, &rgb, gocv.ColorBGRToRGB)
	return rgb, nil
}

// newRGBMat 由紧密排列的 RGB 字节构造 Mat（数据会被复制）
func newRGBMat(width, height int, pix []byte) (gocv.Mat, error) {
	return matFromBytes(width, height, gocv.MatTypeCV8UC3, pix)
}

func matFromBytes(width, height int, mt gocv.MatType, pix []byte) (gocv.Mat, error) {
	view, err := gocv.NewMatFromBytes(height, width, mt, pix)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "failed to create mat from bytes")
	}
	defer view.Close()
	// NewMatFromBytes 不复制底层数据
	return view.Clone(), nil
}

func checkRGB(img gocv.Mat) error {
	if img.Empty() || img.Channels() != 3 || img.Rows() == 0 || img.Cols() == 0 {
		return ErrEmptyImage
	}
	return nil
}

// matToNRGBA 将 RGB Mat 转为不透明的 NRGBA 图像
func matToNRGBA(rgb gocv.Mat) (*image.NRGBA, error) {
	if err := checkRGB(rgb); err != nil {
		return nil, err
	}
	width, height := rgb.Cols(), rgb.Rows()
	src := rgb.ToBytes()
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i < len(src); i, j = i+3, j+4 {
		dst.Pix[j] = src[i]
		dst.Pix[j+1] = src[i+1]
		dst.Pix[j+2] = src[i+2]
		dst.Pix[j+3] = 255
	}
	return dst, nil
}

// splitRGBA 将抠图结果拆分为 RGB Mat 和 alpha Mat
func splitRGBA(img image.Image) (gocv.Mat, gocv.Mat, error) {
	nrgba := imaging.Clone(img)
	width, height := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()

	rgb := make([]byte, 0, width*height*3)
	alpha := make([]byte, 0, width*height)
	for y := 0; y < height; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+width*4]
		for x := 0; x < len(row); x += 4 {
			rgb = append(rgb, row[x], row[x+1], row[x+2])
			alpha = append(alpha, row[x+3])
		}
	}

	rgbMat, err := matFromBytes(width, height, gocv.MatTypeCV8UC3, rgb)
	if err != nil {
		return gocv.NewMat(), gocv.NewMat(), err
	}
	alphaMat, err := matFromBytes(width, height, gocv.MatTypeCV8U, alpha)
	if err != nil {
		rgbMat.Close()
		return gocv.NewMat(), gocv.NewMat(), err
	}
	return rgbMat, alphaMat, nil
}
