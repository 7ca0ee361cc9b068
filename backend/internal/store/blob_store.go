package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"canvasCollab/backend/internal/share"
)

// BlobStore 基于文件系统的密文对象存储；生产用 OsFs，测试用 MemMapFs
type BlobStore struct {
	fs      afero.Fs
	baseURL string
}

// NewBlobStore root 下存放对象，baseURL 用于拼接对外地址
func NewBlobStore(fs afero.Fs, root, baseURL string) *BlobStore {
	if root != "" {
		fs = afero.NewBasePathFs(fs, root)
	}
	return &BlobStore{fs: fs, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *BlobStore) Put(_ context.Context, objectPath string, data []byte) (share.Blob, error) {
	name, err := cleanObjectPath(objectPath)
	if err != nil {
		return share.Blob{}, err
	}
	if err := s.fs.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return share.Blob{}, err
	}
	// 先写临时文件再 rename，读者不会看到半个对象
	tmp, err := afero.TempFile(s.fs, filepath.Dir(name), ".upload-*")
	if err != nil {
		return share.Blob{}, err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmp.Name())
		return share.Blob{}, err
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return share.Blob{}, err
	}
	if err := s.fs.Rename(tmp.Name(), name); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return share.Blob{}, err
	}
	return s.blob(objectPath, int64(len(data))), nil
}

func (s *BlobStore) Head(_ context.Context, objectPath string) (share.Blob, error) {
	name, err := cleanObjectPath(objectPath)
	if err != nil {
		return share.Blob{}, err
	}
	info, err := s.fs.Stat(name)
	if errors.Is(err, os.ErrNotExist) {
		return share.Blob{}, share.ErrBlobNotFound
	}
	if err != nil {
		return share.Blob{}, err
	}
	return s.blob(objectPath, info.Size()), nil
}

func (s *BlobStore) Get(_ context.Context, objectPath string) ([]byte, error) {
	name, err := cleanObjectPath(objectPath)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, share.ErrBlobNotFound
	}
	return data, err
}

func (s *BlobStore) blob(objectPath string, size int64) share.Blob {
	return share.Blob{Path: objectPath, URL: s.baseURL + "/" + objectPath, Size: size}
}

func cleanObjectPath(p string) (string, error) {
	clean := path.Clean("/" + p)
	if clean == "/" || strings.Contains(p, "..") {
		return "", fmt.Errorf("invalid object path %q", p)
	}
	return filepath.FromSlash(clean), nil
}
