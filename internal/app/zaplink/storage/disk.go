package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
)

const diskScheme = "file"

// DiskStore 把文件写在本地目录，单机部署和测试使用。
type DiskStore struct {
	root string
}

func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStore{root: root}, nil
}

func (d *DiskStore) path(key string) (string, error) {
	local := filepath.FromSlash(key)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("object key %q escapes upload dir", key)
	}
	return filepath.Join(d.root, local), nil
}

// Put 先写临时文件再 rename，读到一半的文件不会出现在 key 上。
func (d *DiskStore) Put(ctx context.Context, key string, r io.Reader, size int64, _ string) (zaplink.ArtifactRef, error) {
	dst, err := d.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, readerWithContext(ctx, r))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	if size >= 0 && n != size {
		return "", fmt.Errorf("write upload: got %d bytes, want %d", n, size)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return makeRef(diskScheme, key), nil
}

func (d *DiskStore) Open(_ context.Context, ref zaplink.ArtifactRef) (io.ReadCloser, error) {
	key, err := splitRef(diskScheme, ref)
	if err != nil {
		return nil, err
	}
	p, err := d.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	return f, err
}

func (d *DiskStore) Delete(_ context.Context, ref zaplink.ArtifactRef) error {
	key, err := splitRef(diskScheme, ref)
	if err != nil {
		return err
	}
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
