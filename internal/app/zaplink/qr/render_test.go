package qr

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const content = "https://zap.example/Xy3kP9q"

func decode(t *testing.T, b []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	return img
}

func rgba(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

// 左上角定位图形第一个模块中心的像素坐标
func finderPixel(t *testing.T, size int, level qrcode.RecoveryLevel) int {
	t.Helper()
	q, err := qrcode.New(content, level)
	require.NoError(t, err)
	q.DisableBorder = true
	n := len(q.Bitmap())
	cell := float64(size) / float64(n+2*quietZone)
	return int(quietZone*cell + cell/2)
}

func TestRender_DefaultIsRequestedSizePNG(t *testing.T) {
	out, err := Render(content, DefaultOptions())
	require.NoError(t, err)

	img := decode(t, out)
	assert.Equal(t, image.Rect(0, 0, DefaultSize, DefaultSize), img.Bounds())
	assert.Equal(t, color.RGBA{0xff, 0xff, 0xff, 0xff}, rgba(img, 0, 0), "quiet zone uses background")

	p := finderPixel(t, DefaultSize, qrcode.Medium)
	assert.Equal(t, color.RGBA{0, 0, 0, 0xff}, rgba(img, p, p), "finder module uses foreground")
}

func TestRender_Colours(t *testing.T) {
	opts := DefaultOptions()
	opts.Size = 256
	opts.Foreground = color.RGBA{0x12, 0x34, 0x56, 0xff}
	opts.Background = color.RGBA{0xfe, 0xdc, 0xba, 0xff}

	img := decode(t, mustRender(t, opts))
	assert.Equal(t, opts.Background, rgba(img, 1, 1))
	p := finderPixel(t, 256, qrcode.Medium)
	assert.Equal(t, opts.Foreground, rgba(img, p, p))
}

func TestRender_Frames(t *testing.T) {
	for _, f := range []Frame{FrameNone, FrameRounded, FrameCircle, FrameShadow} {
		t.Run(string(f), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Size = 300
			opts.Frame = f
			img := decode(t, mustRender(t, opts))
			require.Equal(t, 300, img.Bounds().Dx())

			corner := rgba(img, 0, 0)
			switch f {
			case FrameRounded, FrameCircle:
				assert.Equal(t, uint8(0), corner.A, "corner outside the plate is transparent")
			default:
				assert.Equal(t, uint8(0xff), corner.A)
			}
			if f == FrameShadow {
				// 右下角是阴影，半透明
				br := rgba(img, 299, 299)
				assert.Equal(t, shadowColor.A, br.A)
			}
		})
	}
}

func TestRender_PatternsKeepFindersSquare(t *testing.T) {
	for _, p := range []Pattern{PatternDots, PatternRounded} {
		opts := DefaultOptions()
		opts.Pattern = p
		img := decode(t, mustRender(t, opts))

		q, err := qrcode.New(content, qrcode.Medium)
		require.NoError(t, err)
		q.DisableBorder = true
		n := len(q.Bitmap())
		cell := float64(DefaultSize) / float64(n+2*quietZone)
		// 定位图形左上角模块的左上角像素：方块会着色，圆点不会
		px := int(quietZone*cell) + 1
		assert.Equal(t, color.RGBA{0, 0, 0, 0xff}, rgba(img, px, px), "pattern %s", p)
	}
}

func TestRender_LogoCentred(t *testing.T) {
	logo := image.NewRGBA(image.Rect(0, 0, 40, 40))
	red := color.RGBA{0xff, 0, 0, 0xff}
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			logo.SetRGBA(x, y, red)
		}
	}
	opts := DefaultOptions()
	opts.Level = qrcode.Low
	opts.Logo = logo

	img := decode(t, mustRender(t, opts))
	c := rgba(img, DefaultSize/2, DefaultSize/2)
	assert.Greater(t, c.R, uint8(0xe0))
	assert.Less(t, c.G, uint8(0x20))

	// logo 不超过码宽的 22%：离中心 15% 码宽的地方不应是红色
	off := DefaultSize * 15 / 100
	edge := rgba(img, DefaultSize/2+off, DefaultSize/2)
	assert.NotEqual(t, red, edge)
}

func TestRender_Invalid(t *testing.T) {
	_, err := Render("", DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidOptions)

	opts := DefaultOptions()
	opts.Size = 64
	_, err = Render(content, opts)
	assert.ErrorIs(t, err, ErrInvalidOptions)

	opts = DefaultOptions()
	opts.Background = opts.Foreground
	_, err = Render(content, opts)
	assert.ErrorIs(t, err, ErrInvalidOptions)

	opts = DefaultOptions()
	opts.Size = MinSize
	_, err = Render(strings.Repeat("x", 2000), opts)
	assert.ErrorIs(t, err, ErrInvalidOptions, "too many modules for 128px")
}

func TestParsers(t *testing.T) {
	c, err := ParseHexColor("#0af")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{0x00, 0xaa, 0xff, 0xff}, c)

	c, err = ParseHexColor("1E90FF")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{0x1e, 0x90, 0xff, 0xff}, c)

	for _, bad := range []string{"", "#12", "#gggggg", "#1234567", "-12345"} {
		_, err := ParseHexColor(bad)
		assert.ErrorIs(t, err, ErrInvalidOptions, bad)
	}

	lvl, err := ParseLevel("HIGH")
	require.NoError(t, err)
	assert.Equal(t, qrcode.High, lvl)
	assert.Equal(t, "high", LevelString(lvl))
	_, err = ParseLevel("ultra")
	assert.Error(t, err)

	f, err := ParseFrame("")
	require.NoError(t, err)
	assert.Equal(t, FrameNone, f)
	_, err = ParseFrame("hexagon")
	assert.Error(t, err)

	p, err := ParsePattern("Dots")
	require.NoError(t, err)
	assert.Equal(t, PatternDots, p)
}

func TestDecodeLogo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	img, err := DecodeLogo(&buf)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())

	_, err = DecodeLogo(strings.NewReader("not an image"))
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = DecodeLogo(bytes.NewReader(make([]byte, MaxLogoBytes+1)))
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func mustRender(t *testing.T, opts Options) []byte {
	t.Helper()
	out, err := Render(content, opts)
	require.NoError(t, err)
	return out
}
