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
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	data []byte
	opts minio.PutObjectOptions
}

// fakeObjects is an in-memory objectAPI.
type fakeObjects struct {
	mu       sync.Mutex
	objects  map[string]fakeObject
	batches  []int
	failKeys map[string]bool
	putErr   error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string]fakeObject{}, failKeys: map[string]bool{}}
}

func noSuchKey(key string) error {
	return minio.ErrorResponse{Code: "NoSuchKey", Key: key, StatusCode: http.StatusNotFound}
}

func (f *fakeObjects) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectName] = fakeObject{data: data, opts: opts}
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: int64(len(data))}, nil
}

func (f *fakeObjects) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[objectName]
	if !ok {
		return minio.ObjectInfo{}, noSuchKey(objectName)
	}
	return minio.ObjectInfo{Key: objectName, Size: int64(len(obj.data))}, nil
}

func (f *fakeObjects) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectName)
	return nil
}

func (f *fakeObjects) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	f.mu.Lock()
	var infos []minio.ObjectInfo
	for k, obj := range f.objects {
		if strings.HasPrefix(k, opts.Prefix) {
			infos = append(infos, minio.ObjectInfo{Key: k, Size: int64(len(obj.data))})
		}
	}
	f.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })

	ch := make(chan minio.ObjectInfo)
	go func() {
		defer close(ch)
		for _, info := range infos {
			select {
			case ch <- info:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (f *fakeObjects) RemoveObjects(ctx context.Context, bucketName string, objectsCh <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError {
	var errs []minio.RemoveObjectError
	n := 0
	f.mu.Lock()
	for obj := range objectsCh {
		n++
		if f.failKeys[obj.Key] {
			errs = append(errs, minio.RemoveObjectError{ObjectName: obj.Key, Err: errors.New("access denied")})
			continue
		}
		delete(f.objects, obj.Key)
	}
	f.batches = append(f.batches, n)
	f.mu.Unlock()

	out := make(chan minio.RemoveObjectError, len(errs))
	for _, e := range errs {
		out <- e
	}
	close(out)
	return out
}

func (f *fakeObjects) CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[src.Object]
	if !ok {
		return minio.UploadInfo{}, noSuchKey(src.Object)
	}
	f.objects[dst.Object] = obj
	return minio.UploadInfo{Bucket: dst.Bucket, Key: dst.Object, Size: int64(len(obj.data))}, nil
}

func newTestS3Backend(objects objectAPI) *S3Backend {
	return newS3Backend(objects, "room-bucket", "us-east-1", "s3.us-east-1.amazonaws.com", true)
}

func TestS3Backend_NewKey(t *testing.T) {
	b := newTestS3Backend(newFakeObjects())
	b.now = func() time.Time { return time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC) }

	key := b.NewKey("generated", ".webp")
	assert.Regexp(t, regexp.MustCompile(`^generated/20261016/`+uuidPattern+`\.webp$`), key)
	assert.Equal(t, KindS3, b.Kind())
}

func TestS3Backend_PublicURL(t *testing.T) {
	b := newTestS3Backend(newFakeObjects())
	assert.Equal(t, "https://room-bucket.s3.us-east-1.amazonaws.com/generated/a.jpg", b.PublicURL("generated/a.jpg"))

	insecure := newS3Backend(newFakeObjects(), "dev", "us-east-1", "localhost:9000", false)
	assert.Equal(t, "http://dev.localhost:9000/k.png", insecure.PublicURL("k.png"))
}

func TestS3Backend_StorePublic(t *testing.T) {
	objects := newFakeObjects()
	b := newTestS3Backend(objects)

	obj, err := b.Store(context.Background(), FromBytes([]byte("image")), "generated/20261016/abc.png", true)
	require.NoError(t, err)

	assert.Equal(t, "abc", obj.ID)
	assert.Equal(t, "https://room-bucket.s3.us-east-1.amazonaws.com/generated/20261016/abc.png", obj.Reference)
	assert.Equal(t, "image/png", obj.ContentType)
	assert.EqualValues(t, 5, obj.Size)

	stored := objects.objects["generated/20261016/abc.png"]
	assert.Equal(t, "image/png", stored.opts.ContentType)
	assert.Equal(t, "public-read", stored.opts.UserMetadata["x-amz-acl"])
}

func TestS3Backend_StorePrivate(t *testing.T) {
	objects := newFakeObjects()
	b := newTestS3Backend(objects)

	_, err := b.Store(context.Background(), FromBytes([]byte("x")), "private/a.jpg", false)
	require.NoError(t, err)
	assert.Empty(t, objects.objects["private/a.jpg"].opts.UserMetadata)
}

func TestS3Backend_StoreFromFile(t *testing.T) {
	objects := newFakeObjects()
	b := newTestS3Backend(objects)
	fsys := afero.NewMemMapFs()
	b.fs = fsys

	require.NoError(t, afero.WriteFile(fsys, "/tmp/out.jpg", []byte("jpeg-data"), 0o600))

	obj, err := b.Store(context.Background(), FromFile("/tmp/out.jpg"), "generated/out.jpg", true)
	require.NoError(t, err)
	assert.EqualValues(t, 9, obj.Size)
	assert.Equal(t, "jpeg-data", string(objects.objects["generated/out.jpg"].data))

	_, err = b.Store(context.Background(), FromFile("/tmp/missing.jpg"), "generated/missing.jpg", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3Backend_StoreTooLarge(t *testing.T) {
	objects := newFakeObjects()
	b := newTestS3Backend(objects)

	src := filepath.Join(t.TempDir(), "huge.jpg")
	f, err := os.Create(src)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(MaxObjectSize+1))
	require.NoError(t, f.Close())

	_, err = b.Store(context.Background(), FromFile(src), "generated/huge.jpg", true)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Empty(t, objects.objects)
}

func TestS3Backend_StoreBackendError(t *testing.T) {
	objects := newFakeObjects()
	objects.putErr = errors.New("connection reset")
	b := newTestS3Backend(objects)

	_, err := b.Store(context.Background(), FromBytes([]byte("x")), "generated/a.jpg", true)
	assert.ErrorIs(t, err, ErrBackend)
}

func TestS3Backend_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := newTestS3Backend(newFakeObjects())

	_, err := b.Store(ctx, FromBytes([]byte("x")), "generated/a.jpg", true)
	require.NoError(t, err)

	ok, err := b.Exists(ctx, "generated/a.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err := b.Delete(ctx, "generated/a.jpg")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = b.Delete(ctx, "generated/a.jpg")
	require.NoError(t, err)
	assert.False(t, removed)

	_, ok, err = b.Size(ctx, "generated/a.jpg")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestS3Backend_DeletePrefixBatches(t *testing.T) {
	ctx := context.Background()
	objects := newFakeObjects()
	b := newTestS3Backend(objects)

	const n = 1500
	for i := 0; i < n; i++ {
		objects.objects[fmt.Sprintf("batch/%04d.jpg", i)] = fakeObject{data: []byte{1}}
	}
	objects.objects["keep/a.jpg"] = fakeObject{data: []byte{1}}

	removed, err := b.DeletePrefix(ctx, "batch/")
	require.NoError(t, err)
	assert.Equal(t, n, removed)
	assert.Equal(t, []int{1000, 500}, objects.batches)
	assert.Len(t, objects.objects, 1)

	removed, err = b.DeletePrefix(ctx, "batch/")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestS3Backend_DeletePrefixPartialFailure(t *testing.T) {
	ctx := context.Background()
	objects := newFakeObjects()
	b := newTestS3Backend(objects)

	for i := 0; i < 10; i++ {
		objects.objects[fmt.Sprintf("p/%d.jpg", i)] = fakeObject{data: []byte{1}}
	}
	objects.failKeys["p/3.jpg"] = true
	objects.failKeys["p/7.jpg"] = true

	removed, err := b.DeletePrefix(ctx, "p/")
	require.NoError(t, err)
	assert.Equal(t, 8, removed)
}

func TestS3Backend_ListCopyStats(t *testing.T) {
	ctx := context.Background()
	objects := newFakeObjects()
	b := newTestS3Backend(objects)

	objects.objects["generated/b.jpg"] = fakeObject{data: []byte("bb")}
	objects.objects["generated/a.jpg"] = fakeObject{data: []byte("a")}
	objects.objects["generated/c.jpg"] = fakeObject{data: []byte("ccc")}
	objects.objects["other/x.jpg"] = fakeObject{data: []byte("xxxx")}

	keys, err := b.List(ctx, "generated/", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"generated/a.jpg", "generated/b.jpg", "generated/c.jpg"}, keys)

	keys, err = b.List(ctx, "generated/", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"generated/a.jpg", "generated/b.jpg"}, keys)

	ok, err := b.Copy(ctx, "generated/a.jpg", "backup/a.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Copy(ctx, "generated/zzz.jpg", "backup/zzz.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	st, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Count: 5, TotalBytes: 11}, st)
}
