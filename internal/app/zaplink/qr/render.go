// Package qr 把短链渲染成可定制的二维码 PNG。
package qr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/gdg-charusat/zaplink/internal/platform/metrics"
	"github.com/skip2/go-qrcode"
	xdraw "golang.org/x/image/draw"
)

// 二维码标准要求的静区宽度（模块数）
const quietZone = 4

var shadowColor = color.RGBA{0, 0, 0, 0x40}

type rectF struct {
	x0, y0, x1, y1 float64
}

func (r rectF) w() float64 { return r.x1 - r.x0 }

// Render 返回 PNG 字节。带 logo 时纠错等级至少提升到 High。
func Render(content string, opts Options) ([]byte, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidOptions)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.Foreground.A, opts.Background.A = 0xff, 0xff

	level := opts.Level
	if opts.Logo != nil && level < qrcode.High {
		level = qrcode.High
	}
	q, err := qrcode.New(content, level)
	if err != nil {
		return nil, fmt.Errorf("qr encode: %w", err)
	}
	q.DisableBorder = true

	img, err := draw(q.Bitmap(), opts)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("qr png: %w", err)
	}
	metrics.QRRenders.WithLabelValues(string(opts.Frame)).Inc()
	return buf.Bytes(), nil
}

func draw(bitmap [][]bool, opts Options) (*image.RGBA, error) {
	size := float64(opts.Size)
	img := image.NewRGBA(image.Rect(0, 0, opts.Size, opts.Size))
	n := len(bitmap)

	// area：包含静区的方形区域
	var area rectF
	switch opts.Frame {
	case FrameCircle:
		fillCircle(img, size/2, size/2, size/2, opts.Background)
		side := size / math.Sqrt2
		off := (size - side) / 2
		area = rectF{off, off, off + side, off + side}
	case FrameShadow:
		off := size / 32
		fillRect(img, rectF{off, off, size, size}, shadowColor)
		area = rectF{0, 0, size - off, size - off}
		fillRect(img, area, opts.Background)
	case FrameRounded:
		area = rectF{0, 0, size, size}
		// 圆角半径不超过静区，避免切到定位图形
		fillRoundedRect(img, area, quietZone*size/float64(n+2*quietZone), opts.Background)
	default:
		area = rectF{0, 0, size, size}
		fillRect(img, area, opts.Background)
	}

	cell := area.w() / float64(n+2*quietZone)
	if cell < 1 {
		return nil, fmt.Errorf("%w: content too long for size %d", ErrInvalidOptions, opts.Size)
	}
	ox, oy := area.x0+quietZone*cell, area.y0+quietZone*cell

	for y, row := range bitmap {
		for x, dark := range row {
			if !dark {
				continue
			}
			m := rectF{ox + float64(x)*cell, oy + float64(y)*cell, ox + float64(x+1)*cell, oy + float64(y+1)*cell}
			// 定位图形始终画成方块，保证能识别
			if opts.Pattern == PatternSquares || inFinder(x, y, n) {
				fillRect(img, m, opts.Foreground)
				continue
			}
			switch opts.Pattern {
			case PatternDots:
				fillCircle(img, m.x0+cell/2, m.y0+cell/2, cell*0.45, opts.Foreground)
			case PatternRounded:
				fillRoundedRect(img, m, cell*0.3, opts.Foreground)
			}
		}
	}

	if opts.Logo != nil {
		drawLogo(img, opts.Logo, ox, oy, float64(n)*cell, cell, opts.Background)
	}
	return img, nil
}

func inFinder(x, y, n int) bool {
	return (x < 7 && y < 7) || (x >= n-7 && y < 7) || (x < 7 && y >= n-7)
}

// drawLogo 把 logo 等比缩放后贴在码的正中，底下垫一块背景色的圆角底板。
// 底板（含内边距）不超过码宽的 logoMaxRatio。
func drawLogo(img *image.RGBA, logo image.Image, ox, oy, symbolW, cell float64, bg color.RGBA) {
	lb := logo.Bounds()
	if lb.Empty() {
		return
	}
	pad := cell
	maxSide := symbolW*logoMaxRatio - 2*pad
	if maxSide < 1 {
		return
	}
	scale := math.Min(maxSide/float64(lb.Dx()), maxSide/float64(lb.Dy()))
	w, h := float64(lb.Dx())*scale, float64(lb.Dy())*scale
	cx, cy := ox+symbolW/2, oy+symbolW/2

	fillRoundedRect(img, rectF{cx - w/2 - pad, cy - h/2 - pad, cx + w/2 + pad, cy + h/2 + pad}, pad, bg)
	dst := image.Rect(int(math.Round(cx-w/2)), int(math.Round(cy-h/2)), int(math.Round(cx+w/2)), int(math.Round(cy+h/2)))
	xdraw.CatmullRom.Scale(img, dst, logo, lb, xdraw.Over, nil)
}

// fill 以像素中心是否落在形状内来决定是否着色；相邻的方块可以无缝拼接。
func fill(img *image.RGBA, b rectF, c color.RGBA, inside func(x, y float64) bool) {
	r := image.Rect(int(math.Floor(b.x0)), int(math.Floor(b.y0)), int(math.Ceil(b.x1)), int(math.Ceil(b.y1))).Intersect(img.Bounds())
	for py := r.Min.Y; py < r.Max.Y; py++ {
		for px := r.Min.X; px < r.Max.X; px++ {
			if inside(float64(px)+0.5, float64(py)+0.5) {
				img.SetRGBA(px, py, c)
			}
		}
	}
}

func fillRect(img *image.RGBA, b rectF, c color.RGBA) {
	fill(img, b, c, func(x, y float64) bool {
		return x >= b.x0 && x < b.x1 && y >= b.y0 && y < b.y1
	})
}

func fillCircle(img *image.RGBA, cx, cy, radius float64, c color.RGBA) {
	b := rectF{cx - radius, cy - radius, cx + radius, cy + radius}
	fill(img, b, c, func(x, y float64) bool {
		dx, dy := x-cx, y-cy
		return dx*dx+dy*dy <= radius*radius
	})
}

func fillRoundedRect(img *image.RGBA, b rectF, radius float64, c color.RGBA) {
	radius = math.Min(radius, b.w()/2)
	fill(img, b, c, func(x, y float64) bool {
		if x < b.x0 || x >= b.x1 || y < b.y0 || y >= b.y1 {
			return false
		}
		// 把点夹到内缩 radius 的矩形里，再看距离
		nx := math.Max(b.x0+radius, math.Min(x, b.x1-radius))
		ny := math.Max(b.y0+radius, math.Min(y, b.y1-radius))
		dx, dy := x-nx, y-ny
		return dx*dx+dy*dy <= radius*radius
	})
}
