package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gdg-charusat/zaplink/gee"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/storage"
	"github.com/gdg-charusat/zaplink/internal/platform/metrics"
)

const (
	// 除文件以外的表单字段的余量
	multipartOverhead = 1 << 20
	// 超过这个大小的文件部分落到临时文件
	multipartMemory = 8 << 20
)

// 上传表单字段
const (
	fieldName          = "name"
	fieldFile          = "file"
	fieldPassword      = "password"
	fieldDestructType  = "destruct_type"
	fieldDestructValue = "destruct_value"
)

type UploadResponse struct {
	LinkView
	QRURL string `json:"qr_url"`
}

// NewUploadHandler 处理上传表单：保存文件，然后创建链接。
// 链接创建失败时删除已经保存的文件，不留孤儿对象。
func NewUploadHandler(d *Deps) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		ctx.Req.Body = http.MaxBytesReader(ctx.Writer, ctx.Req.Body, d.MaxUploadBytes+multipartOverhead)
		if err := ctx.Req.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				rejectUpload(ctx, http.StatusRequestEntityTooLarge, "file too large")
				return
			}
			rejectUpload(ctx, http.StatusBadRequest, "invalid multipart form")
			return
		}
		defer func() {
			if err := ctx.Req.MultipartForm.RemoveAll(); err != nil {
				slog.Warn("remove multipart temp files failed", "request_id", ctx.RequestID(), "err", err)
			}
		}()

		name := strings.TrimSpace(ctx.PostForm(fieldName))
		if err := zaplink.ValidateName(name); err != nil {
			rejectUpload(ctx, http.StatusBadRequest, err.Error())
			return
		}

		file, header, err := ctx.FormFile(fieldFile)
		if err != nil {
			rejectUpload(ctx, http.StatusBadRequest, "missing file")
			return
		}
		defer file.Close()

		fileName := filepath.Base(strings.TrimSpace(header.Filename))
		if err := zaplink.ValidateFileName(fileName); err != nil {
			rejectUpload(ctx, http.StatusBadRequest, err.Error())
			return
		}
		if header.Size <= 0 {
			rejectUpload(ctx, http.StatusBadRequest, "empty file")
			return
		}
		if header.Size > d.MaxUploadBytes {
			rejectUpload(ctx, http.StatusRequestEntityTooLarge, "file too large")
			return
		}

		now := d.now()
		policy, err := zaplink.ParsePolicy(ctx.PostForm(fieldDestructType), ctx.PostForm(fieldDestructValue), now)
		if err != nil {
			rejectUpload(ctx, http.StatusBadRequest, err.Error())
			return
		}

		var passwordHash string
		if pw := ctx.PostForm(fieldPassword); pw != "" {
			passwordHash, err = zaplink.HashPassword(pw, d.PasswordCost)
			if err != nil {
				if errors.Is(err, zaplink.ErrInvalidPassword) {
					rejectUpload(ctx, http.StatusBadRequest, err.Error())
					return
				}
				metrics.Uploads.WithLabelValues("failed").Inc()
				abortDenied(ctx, err)
				return
			}
		}

		contentType := detectContentType(fileName, header.Header.Get("Content-Type"))
		ref, err := d.Uploads.Put(ctx.Req.Context(), storage.ObjectKey(now, fileName), file, header.Size, contentType)
		if err != nil {
			metrics.Uploads.WithLabelValues("failed").Inc()
			abortDenied(ctx, err)
			return
		}

		link, err := d.Links.Create(ctx.Req.Context(), zaplink.NewLink{
			Name:         name,
			ArtifactRef:  ref,
			FileName:     fileName,
			ContentType:  contentType,
			Size:         header.Size,
			PasswordHash: passwordHash,
			Policy:       policy,
			OwnerID:      tryGetUserID(ctx),
			CreatedAt:    now,
		})
		if err != nil {
			cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx.Req.Context()), 5*time.Second)
			defer cancel()
			if delErr := d.Uploads.Delete(cleanupCtx, ref); delErr != nil {
				slog.Error("delete orphan upload failed", "ref", ref, "err", delErr)
			}
			metrics.Uploads.WithLabelValues("failed").Inc()
			abortDenied(ctx, err)
			return
		}

		metrics.Uploads.WithLabelValues("ok").Inc()
		metrics.UploadBytes.Add(float64(header.Size))
		slog.Info("link created",
			"request_id", ctx.RequestID(),
			"code", link.Code,
			"policy", link.Policy.String(),
			"protected", link.Protected(),
			"size", link.Size)

		view := d.linkView(ctx, link)
		ctx.JSON(http.StatusCreated, UploadResponse{
			LinkView: view,
			QRURL:    strings.TrimSuffix(view.ShortURL, "/"+link.Code) + "/api/v1/links/" + link.Code + "/qr",
		})
	}
}

func rejectUpload(ctx *gee.Context, code int, msg string) {
	metrics.Uploads.WithLabelValues("rejected").Inc()
	ctx.AbortWithError(code, msg)
}

// detectContentType 以扩展名为准，浏览器给的类型只在扩展名查不到时使用。
func detectContentType(fileName, declared string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName))); ct != "" {
		return ct
	}
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	return "application/octet-stream"
}
