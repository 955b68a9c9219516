package qr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strconv"
	"strings"

	"github.com/skip2/go-qrcode"
)

const (
	MinSize     = 128
	MaxSize     = 1024
	DefaultSize = 512

	MaxLogoBytes = 1 << 20
	// 居中 logo 最多占码宽的比例；High 纠错可以容忍约 30% 的码字损坏
	logoMaxRatio = 0.22
)

var ErrInvalidOptions = errors.New("invalid qr options")

type Frame string

const (
	FrameNone    Frame = "none"
	FrameRounded Frame = "rounded"
	FrameCircle  Frame = "circle"
	FrameShadow  Frame = "shadow"
)

type Pattern string

const (
	PatternSquares Pattern = "squares"
	PatternDots    Pattern = "dots"
	PatternRounded Pattern = "rounded"
)

type Options struct {
	Size       int
	Level      qrcode.RecoveryLevel
	Frame      Frame
	Pattern    Pattern
	Foreground color.RGBA
	Background color.RGBA
	Logo       image.Image
}

func DefaultOptions() Options {
	return Options{
		Size:       DefaultSize,
		Level:      qrcode.Medium,
		Frame:      FrameNone,
		Pattern:    PatternSquares,
		Foreground: color.RGBA{0, 0, 0, 0xff},
		Background: color.RGBA{0xff, 0xff, 0xff, 0xff},
	}
}

func (o Options) Validate() error {
	if o.Size < MinSize || o.Size > MaxSize {
		return fmt.Errorf("%w: size must be between %d and %d", ErrInvalidOptions, MinSize, MaxSize)
	}
	if o.Level < qrcode.Low || o.Level > qrcode.Highest {
		return fmt.Errorf("%w: unknown level", ErrInvalidOptions)
	}
	switch o.Frame {
	case FrameNone, FrameRounded, FrameCircle, FrameShadow:
	default:
		return fmt.Errorf("%w: unknown frame %q", ErrInvalidOptions, o.Frame)
	}
	switch o.Pattern {
	case PatternSquares, PatternDots, PatternRounded:
	default:
		return fmt.Errorf("%w: unknown pattern %q", ErrInvalidOptions, o.Pattern)
	}
	if o.Foreground == o.Background {
		return fmt.Errorf("%w: foreground and background must differ", ErrInvalidOptions)
	}
	return nil
}

func ParseLevel(s string) (qrcode.RecoveryLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return qrcode.Low, nil
	case "medium", "":
		return qrcode.Medium, nil
	case "high":
		return qrcode.High, nil
	case "highest":
		return qrcode.Highest, nil
	}
	return 0, fmt.Errorf("%w: level must be low, medium, high or highest", ErrInvalidOptions)
}

func LevelString(level qrcode.RecoveryLevel) string {
	switch level {
	case qrcode.Low:
		return "low"
	case qrcode.Medium:
		return "medium"
	case qrcode.High:
		return "high"
	case qrcode.Highest:
		return "highest"
	default:
		return "unknown"
	}
}

func ParseFrame(s string) (Frame, error) {
	f := Frame(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return FrameNone, nil
	}
	switch f {
	case FrameNone, FrameRounded, FrameCircle, FrameShadow:
		return f, nil
	}
	return "", fmt.Errorf("%w: frame must be none, rounded, circle or shadow", ErrInvalidOptions)
}

func ParsePattern(s string) (Pattern, error) {
	p := Pattern(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return PatternSquares, nil
	}
	switch p {
	case PatternSquares, PatternDots, PatternRounded:
		return p, nil
	}
	return "", fmt.Errorf("%w: pattern must be squares, dots or rounded", ErrInvalidOptions)
}

// ParseHexColor 支持 #RGB 和 #RRGGBB，# 可省略。
func ParseHexColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 3 && len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("%w: bad colour %q", ErrInvalidOptions, s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: bad colour %q", ErrInvalidOptions, s)
	}
	var r, g, b uint8
	if len(s) == 3 {
		r, g, b = uint8(v>>8&0xf)*0x11, uint8(v>>4&0xf)*0x11, uint8(v&0xf)*0x11
	} else {
		r, g, b = uint8(v>>16), uint8(v>>8), uint8(v)
	}
	return color.RGBA{r, g, b, 0xff}, nil
}

// DecodeLogo 读取 PNG/JPEG/GIF，超过 MaxLogoBytes 直接拒绝。
func DecodeLogo(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxLogoBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxLogoBytes {
		return nil, fmt.Errorf("%w: logo larger than %d bytes", ErrInvalidOptions, MaxLogoBytes)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: logo is not a png, jpeg or gif image", ErrInvalidOptions)
	}
	switch format {
	case "png", "jpeg", "gif":
	default:
		return nil, fmt.Errorf("%w: unsupported logo format %q", ErrInvalidOptions, format)
	}
	return img, nil
}
