package storagesvc

import (
	"context"
	"io"
	"strings"

	oss "github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/pkg/errors"

	"github.com/shulelink/backend/core"
)

type ossStorage struct {
	bucket  *oss.Bucket
	baseURL string
}

var _ core.FileStorage = (*ossStorage)(nil)

func NewOSSStorage(conf *core.Config) (core.FileStorage, error) {
	cli, err := oss.New(conf.Storage.OSSEndpoint, conf.Storage.OSSAccessKeyID, conf.Storage.OSSAccessSecret)
	if err != nil {
		return nil, errors.Wrap(err, "oss.New")
	}
	bucket, err := cli.Bucket(conf.Storage.OSSBucket)
	if err != nil {
		return nil, errors.Wrap(err, "oss.Bucket")
	}
	return &ossStorage{
		bucket:  bucket,
		baseURL: strings.TrimRight(conf.Storage.BaseURL, "/"),
	}, nil
}

func (s *ossStorage) Put(_ context.Context, path string, content io.Reader) (string, error) {
	path = strings.TrimLeft(path, "/")
	if err := s.bucket.PutObject(path, content); err != nil {
		return "", errors.Wrap(err, "oss.PutObject")
	}
	return s.baseURL + "/" + path, nil
}
