// Package storage 是 Upload Store：保存上传的文件，返回不透明的 ArtifactRef。
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
	"github.com/google/uuid"
)

var ErrObjectNotFound = errors.New("object not found")
var ErrForeignRef = errors.New("artifact ref belongs to another store")

// Store 上传存储。Put 成功后 ref 永久有效，直到 Delete。
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (zaplink.ArtifactRef, error)
	Open(ctx context.Context, ref zaplink.ArtifactRef) (io.ReadCloser, error)
	Delete(ctx context.Context, ref zaplink.ArtifactRef) error
}

// ObjectKey 生成 yyyy/mm/dd/<uuid><ext>。扩展名统一转小写，原始文件名不进 key。
func ObjectKey(now time.Time, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	return now.UTC().Format("2006/01/02") + "/" + uuid.NewString() + ext
}

// ref 格式：<scheme>://<key>
func makeRef(scheme, key string) zaplink.ArtifactRef {
	return zaplink.ArtifactRef(scheme + "://" + key)
}

func splitRef(scheme string, ref zaplink.ArtifactRef) (string, error) {
	key, ok := strings.CutPrefix(string(ref), scheme+"://")
	if !ok || key == "" {
		return "", ErrForeignRef
	}
	return key, nil
}
