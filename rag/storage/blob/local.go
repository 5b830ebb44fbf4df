package blob

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/pkg/errors"
)

// Local keeps blobs as plain files under a root directory.
type Local struct {
	root string
}

var _ rag.BlobStore = (*Local)(nil)

func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "resolve blob root")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "create blob root")
	}
	return &Local{root: abs}, nil
}

func (l *Local) path(key string) (string, error) {
	p := filepath.Join(l.root, filepath.FromSlash(key))
	if !strings.HasPrefix(p, l.root+string(filepath.Separator)) {
		return "", errors.Errorf("blob key %q escapes root", key)
	}
	return p, nil
}

func (l *Local) Upload(ctx context.Context, key, localPath string) (string, error) {
	dst, err := l.path(key)
	if err != nil {
		return "", rag.NewError(rag.ErrStorageUnavailable, err, "upload")
	}
	if err := copyFile(localPath, dst); err != nil {
		return "", rag.NewError(rag.ErrStorageUnavailable, err, "upload "+key)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dst)}).String(), nil
}

func (l *Local) Download(ctx context.Context, key, localPath string) error {
	src, err := l.path(key)
	if err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "download")
	}
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return rag.NewError(rag.ErrNotFound, err, "download "+key)
	}
	if err := copyFile(src, localPath); err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "download "+key)
	}
	return nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "delete")
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return rag.NewError(rag.ErrStorageUnavailable, err, "delete "+key)
	}
	return nil
}

// Presign has no expiry locally, the file url is returned as is.
func (l *Local) Presign(ctx context.Context, key string) (string, error) {
	p, err := l.path(key)
	if err != nil {
		return "", rag.NewError(rag.ErrStorageUnavailable, err, "presign")
	}
	if _, err := os.Stat(p); err != nil {
		return "", rag.NewError(rag.ErrNotFound, err, "presign "+key)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String(), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
