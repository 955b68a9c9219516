package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gdg-charusat/zaplink/gee"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/qr"
)

// NewQRHandler 渲染短链二维码。
//
// GET 从 query 取参数；POST 是 multipart 表单，额外可以带 logo 文件。
// 参数：size、level、frame、pattern、fg、bg、download=1。
func NewQRHandler(d *Deps) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		code := ctx.Param("code")
		if err := zaplink.ValidateCode(code); err != nil {
			abortDenied(ctx, zaplink.ErrNotFound)
			return
		}
		link, err := d.Links.Get(ctx.Req.Context(), code)
		if err != nil {
			abortDenied(ctx, err)
			return
		}

		get := ctx.Query
		if ctx.Method == http.MethodPost {
			ctx.Req.Body = http.MaxBytesReader(ctx.Writer, ctx.Req.Body, qr.MaxLogoBytes+multipartOverhead)
			if err := ctx.Req.ParseMultipartForm(qr.MaxLogoBytes); err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					ctx.AbortWithError(http.StatusRequestEntityTooLarge, "logo too large")
					return
				}
				ctx.AbortWithError(http.StatusBadRequest, "invalid multipart form")
				return
			}
			defer ctx.Req.MultipartForm.RemoveAll()
			get = ctx.PostForm
		}

		opts, err := parseQROptions(get)
		if err != nil {
			ctx.AbortWithError(http.StatusBadRequest, err.Error())
			return
		}
		if ctx.Method == http.MethodPost {
			if f, _, err := ctx.FormFile("logo"); err == nil {
				logo, err := qr.DecodeLogo(f)
				f.Close()
				if err != nil {
					ctx.AbortWithError(http.StatusBadRequest, err.Error())
					return
				}
				opts.Logo = logo
			} else if !errors.Is(err, http.ErrMissingFile) {
				ctx.AbortWithError(http.StatusBadRequest, "invalid logo")
				return
			}
		}

		png, err := qr.Render(d.shortURL(ctx, link.Code), opts)
		if err != nil {
			if errors.Is(err, qr.ErrInvalidOptions) {
				ctx.AbortWithError(http.StatusBadRequest, err.Error())
				return
			}
			abortDenied(ctx, err)
			return
		}

		if get("download") == "1" {
			ctx.SetHeader("Content-Disposition", `attachment; filename="zaplink-`+link.Code+`.png"`)
		}
		ctx.SetHeader("Cache-Control", "public, max-age=3600")
		ctx.SetHeader("Content-Length", strconv.Itoa(len(png)))
		ctx.Data(http.StatusOK, "image/png", png)
	}
}

func parseQROptions(get func(string) string) (qr.Options, error) {
	opts := qr.DefaultOptions()
	var err error
	if s := get("size"); s != "" {
		if opts.Size, err = strconv.Atoi(s); err != nil {
			return opts, errors.New("size must be a number")
		}
	}
	if s := get("level"); s != "" {
		if opts.Level, err = qr.ParseLevel(s); err != nil {
			return opts, err
		}
	}
	if opts.Frame, err = qr.ParseFrame(get("frame")); err != nil {
		return opts, err
	}
	if opts.Pattern, err = qr.ParsePattern(get("pattern")); err != nil {
		return opts, err
	}
	if s := get("fg"); s != "" {
		if opts.Foreground, err = qr.ParseHexColor(s); err != nil {
			return opts, err
		}
	}
	if s := get("bg"); s != "" {
		if opts.Background, err = qr.ParseHexColor(s); err != nil {
			return opts, err
		}
	}
	return opts, opts.Validate()
}
