// Package annotate draws detections onto video frames.
package annotate

import (
	"fmt"
	"image"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/roadscan/pkg/defects"
	"github.com/cyclopcam/roadscan/pkg/nn"
	"github.com/fogleman/gg"
)

const lineWidth = 2

// Label is the text drawn above a box, eg "pothole ID:7"
func Label(det nn.Detection) string {
	name := defects.Category(det.Class).Name()
	if det.HasTrack() {
		return fmt.Sprintf("%v ID:%v", name, det.TrackID)
	}
	return name
}

// Draw renders a coloured box and label for every detection, in place.
// img must be RGB.
func Draw(img *cimg.Image, dets []nn.Detection) {
	if len(dets) == 0 {
		return
	}
	rgba := toRGBA(img)
	dc := gg.NewContextForRGBA(rgba)
	dc.SetLineWidth(lineWidth)
	for _, det := range dets {
		c := defects.Category(det.Class).Color()
		dc.SetRGB255(int(c.R), int(c.G), int(c.B))
		b := det.Box
		dc.DrawRectangle(float64(b.X), float64(b.Y), float64(b.Width), float64(b.Height))
		dc.Stroke()
		// Text baseline sits 10 pixels above the box, but never above the top of the image
		ty := float64(b.Y - 10)
		if ty < 12 {
			ty = float64(b.Y2() + 12)
		}
		dc.DrawString(Label(det), float64(b.X), ty)
	}
	fromRGBA(rgba, img)
}

func toRGBA(img *cimg.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		src := img.Pixels[y*img.Stride:]
		d := dst.Pix[y*dst.Stride:]
		for x := 0; x < img.Width; x++ {
			d[x*4] = src[x*3]
			d[x*4+1] = src[x*3+1]
			d[x*4+2] = src[x*3+2]
			d[x*4+3] = 255
		}
	}
	return dst
}

func fromRGBA(src *image.RGBA, img *cimg.Image) {
	for y := 0; y < img.Height; y++ {
		s := src.Pix[y*src.Stride:]
		d := img.Pixels[y*img.Stride:]
		for x := 0; x < img.Width; x++ {
			d[x*3] = s[x*4]
			d[x*3+1] = s[x*4+1]
			d[x*3+2] = s[x*4+2]
		}
	}
}
