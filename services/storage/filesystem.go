package storagesvc

import (
	"context"
	"io"
	"os"
	stdpath "path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/shulelink/backend/core"
)

// filesystemStorage writes objects under a local directory; used in
// development where no object store is available.
type filesystemStorage struct {
	root    string
	baseURL string
}

var _ core.FileStorage = (*filesystemStorage)(nil)

func NewFilesystemStorage(conf *core.Config) core.FileStorage {
	return &filesystemStorage{
		root:    conf.Storage.LocalDir,
		baseURL: strings.TrimRight(conf.Storage.BaseURL, "/"),
	}
}

func (s *filesystemStorage) Put(_ context.Context, path string, content io.Reader) (string, error) {
	path = stdpath.Clean(strings.TrimLeft(path, "/"))
	dst := filepath.Join(s.root, filepath.FromSlash(path))

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errors.Wrap(err, "creating storage dir")
	}
	f, err := os.Create(dst)
	if err != nil {
		return "", errors.Wrap(err, "creating file")
	}
	defer f.Close()

	if _, err := io.Copy(f, content); err != nil {
		return "", errors.Wrap(err, "writing file")
	}
	return s.baseURL + "/" + path, nil
}
