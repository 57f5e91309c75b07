package service

import (
	"bytes"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	// 降级路径独立解码 WEBP
	_ "golang.org/x/image/webp"
)

// stretchTensor 降级路径：重新解码原始字节，不保持宽高比直接拉伸到目标尺寸后归一化。
// 与主路径的等比缩放+白边填充刻意不同。
func stretchTensor(data []byte, width, height int) ([]float32, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(err, "degraded decode")
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, ErrEmptyImage
	}

	stretched := imaging.Resize(img, width, height, imaging.Linear)

	tensor := make([]float32, 0, width*height*3)
	for y := 0; y < height; y++ {
		row := stretched.Pix[y*stretched.Stride : y*stretched.Stride+width*4]
		for x := 0; x < len(row); x += 4 {
			tensor = append(tensor,
				float32(row[x])/255,
				float32(row[x+1])/255,
				float32(row[x+2])/255)
		}
	}
	return tensor, nil
}
