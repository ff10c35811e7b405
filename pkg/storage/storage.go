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

// Package storage persists generated artifacts either in an S3 compatible
// object store or under a directory on the local filesystem.
package storage

import (
	"context"
	"errors"
)

// MaxObjectSize is the largest payload Store accepts.
const MaxObjectSize = 50 * 1024 * 1024

var (
	// ErrNotFound is returned when a source file or stored object is missing.
	ErrNotFound = errors.New("storage: not found")

	// ErrTooLarge is returned when a payload exceeds MaxObjectSize.
	ErrTooLarge = errors.New("storage: payload too large")

	// ErrBackend wraps transport and permission failures of the backend.
	ErrBackend = errors.New("storage: backend error")

	// ErrNotInitialized is returned by Registry.Current before Initialize.
	ErrNotInitialized = errors.New("storage: backend not initialized")
)

// Kind names a backend variant.
type Kind string

const (
	KindS3    Kind = "s3"
	KindLocal Kind = "local"
)

// Object describes a persisted artifact.
type Object struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	Reference   string `json:"reference"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// Stats is the result of a full scan of a backend.
type Stats struct {
	Count      int   `json:"count"`
	TotalBytes int64 `json:"totalBytes"`
}

// Source is the content handed to Store. Exactly one of Path or Data is
// used; Path wins when both are set.
//
// A LocalBackend takes ownership of Path: the file is moved into the store
// rather than copied, so it no longer exists at Path once Store succeeds.
type Source struct {
	Path string
	Data []byte
}

// FromFile returns a Source reading the file at path.
func FromFile(path string) Source { return Source{Path: path} }

// FromBytes returns a Source holding data in memory.
func FromBytes(data []byte) Source { return Source{Data: data} }

// Backend is the set of operations the generation pipeline and the admin
// tooling need from a store. Implementations must be safe for concurrent
// use once constructed.
type Backend interface {
	// Kind reports which variant this is.
	Kind() Kind

	// NewKey returns a fresh, globally unique key under folder using the
	// backend's key scheme. ext is normalized with NormalizeExt.
	NewKey(folder, ext string) string

	// Store writes src under key. With public set the object is readable
	// through the returned reference without credentials.
	Store(ctx context.Context, src Source, key string, public bool) (*Object, error)

	// Delete removes key. A missing object yields false and no error.
	Delete(ctx context.Context, key string) (bool, error)

	Exists(ctx context.Context, key string) (bool, error)

	// Size returns the object size; ok is false when the object is absent.
	Size(ctx context.Context, key string) (size int64, ok bool, err error)

	// List returns keys starting with prefix in lexicographic order. A
	// limit <= 0 means no cap.
	List(ctx context.Context, prefix string, limit int) ([]string, error)

	// DeletePrefix removes every object under prefix and returns how many
	// were removed. It is best effort: failures on individual objects are
	// logged and not counted.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Copy duplicates srcKey to dstKey. A missing source yields false.
	Copy(ctx context.Context, srcKey, dstKey string) (bool, error)

	// Stats scans the whole store. Not meant for the request path.
	Stats(ctx context.Context) (Stats, error)
}
