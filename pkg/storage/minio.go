// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/afero"

	"github.com/fawa-io/roomdesign/pkg/config"
	"github.com/fawa-io/roomdesign/pkg/fwlog"
)

// deleteBatchSize caps the number of keys sent in one multi-object delete.
const deleteBatchSize = 1000

// objectAPI is the subset of *minio.Client used on the request path.
type objectAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObjects(ctx context.Context, bucketName string, objectsCh <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
}

// S3Backend stores artifacts in an S3 compatible bucket. The minio client
// it wraps is safe for concurrent use.
type S3Backend struct {
	client   objectAPI
	admin    adminAPI
	fs       afero.Fs
	bucket   string
	region   string
	endpoint string
	secure   bool
	now      func() time.Time
}

// NewS3Backend builds a client for cfg. FromFile sources are read from fsys,
// or the OS filesystem when nil. No request is made; use CheckConnection to
// verify credentials and bucket access.
func NewS3Backend(cfg config.S3Config, fsys afero.Fs) (*S3Backend, error) {
	endpoint := cfg.ResolvedEndpoint()
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 client: %w", err)
	}

	fwlog.Infof("S3 client initialized for bucket: %s (region: %s, endpoint: %s)", cfg.Bucket, cfg.Region, endpoint)
	b := newS3Backend(client, cfg.Bucket, cfg.Region, endpoint, cfg.UseSSL)
	b.admin = client
	if fsys != nil {
		b.fs = fsys
	}
	return b, nil
}

func newS3Backend(client objectAPI, bucket, region, endpoint string, secure bool) *S3Backend {
	return &S3Backend{
		client:   client,
		fs:       afero.NewOsFs(),
		bucket:   bucket,
		region:   region,
		endpoint: endpoint,
		secure:   secure,
		now:      time.Now,
	}
}

func (b *S3Backend) Kind() Kind { return KindS3 }

// Bucket is the bucket objects are written to.
func (b *S3Backend) Bucket() string { return b.bucket }

// Region is the configured bucket region.
func (b *S3Backend) Region() string { return b.region }

func (b *S3Backend) NewKey(folder, ext string) string {
	return RemoteKey(folder, ext, b.now())
}

// PublicURL is the anonymous URL of key: {scheme}://{bucket}.{endpoint}/{key}.
func (b *S3Backend) PublicURL(key string) string {
	scheme := "https"
	if !b.secure {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s.%s/%s", scheme, b.bucket, b.endpoint, key)
}

func (b *S3Backend) Store(ctx context.Context, src Source, key string, public bool) (*Object, error) {
	var (
		reader io.Reader
		size   int64
	)
	if src.Path != "" {
		f, err := b.fs.Open(src.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, src.Path)
			}
			return nil, fmt.Errorf("%w: open %s: %w", ErrBackend, src.Path, err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("%w: stat %s: %w", ErrBackend, src.Path, err)
		}
		size = info.Size()
		reader = f
	} else {
		size = int64(len(src.Data))
		reader = bytes.NewReader(src.Data)
	}
	if size > MaxObjectSize {
		return nil, fmt.Errorf("%w: %.2fMB (max: 50MB)", ErrTooLarge, float64(size)/(1024*1024))
	}

	opts := minio.PutObjectOptions{ContentType: ContentTypeForKey(key)}
	if public {
		opts.UserMetadata = map[string]string{"x-amz-acl": "public-read"}
	}

	fwlog.Infof("Uploading to S3: %s (size: %.2fKB)", key, float64(size)/1024)
	info, err := b.client.PutObject(ctx, b.bucket, key, reader, size, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: upload %s: %w", ErrBackend, key, err)
	}

	url := b.PublicURL(key)
	fwlog.Infof("File uploaded: %s", url)
	return &Object{
		ID:          IDFromKey(key),
		Key:         key,
		Reference:   url,
		ContentType: opts.ContentType,
		Size:        info.Size,
	}, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound", "NoSuchObject":
		return true
	}
	return resp.StatusCode == http.StatusNotFound
}

func (b *S3Backend) Size(ctx context.Context, key string) (int64, bool, error) {
	info, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: stat %s: %w", ErrBackend, key, err)
	}
	return info.Size, true, nil
}

func (b *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := b.Size(ctx, key)
	return ok, err
}

// Delete stats before removing because S3 reports success for absent keys.
func (b *S3Backend) Delete(ctx context.Context, key string) (bool, error) {
	ok, err := b.Exists(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: delete %s: %w", ErrBackend, key, err)
	}
	fwlog.Infof("File deleted: %s", key)
	return true, nil
}

// scan streams objects under prefix until fn returns false.
func (b *S3Backend) scan(ctx context.Context, prefix string, fn func(minio.ObjectInfo) bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return obj.Err
		}
		if !fn(obj) {
			return nil
		}
	}
	return ctx.Err()
}

func (b *S3Backend) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	var keys []string
	err := b.scan(ctx, prefix, func(obj minio.ObjectInfo) bool {
		keys = append(keys, obj.Key)
		return limit <= 0 || len(keys) < limit
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list %q: %w", ErrBackend, prefix, err)
	}
	fwlog.Debugf("Listed %d files with prefix '%s'", len(keys), prefix)
	return keys, nil
}

func (b *S3Backend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := b.List(ctx, prefix, 0)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		fwlog.Infof("No files to delete with prefix '%s'", prefix)
		return 0, nil
	}

	removed := 0
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		removed += b.deleteBatch(ctx, keys[start:end])
	}
	fwlog.Infof("Deleted %d of %d files with prefix '%s'", removed, len(keys), prefix)
	return removed, nil
}

// deleteBatch issues one multi-object delete and returns how many keys
// were removed.
func (b *S3Backend) deleteBatch(ctx context.Context, batch []string) int {
	objectsCh := make(chan minio.ObjectInfo, len(batch))
	for _, key := range batch {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)

	failed := 0
	for rErr := range b.client.RemoveObjects(ctx, b.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		fwlog.Warnf("Failed to delete %s: %v", rErr.ObjectName, rErr.Err)
		failed++
	}
	return len(batch) - failed
}

func (b *S3Backend) Copy(ctx context.Context, srcKey, dstKey string) (bool, error) {
	_, err := b.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: b.bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: b.bucket, Object: srcKey},
	)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: copy %s -> %s: %w", ErrBackend, srcKey, dstKey, err)
	}
	fwlog.Infof("File copied: %s -> %s", srcKey, dstKey)
	return true, nil
}

func (b *S3Backend) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := b.scan(ctx, "", func(obj minio.ObjectInfo) bool {
		st.Count++
		st.TotalBytes += obj.Size
		return true
	})
	if err != nil {
		return Stats{}, fmt.Errorf("%w: stats: %w", ErrBackend, err)
	}
	return st, nil
}
