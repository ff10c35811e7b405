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
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fawa-io/roomdesign/pkg/fwlog"
)

// DefaultExt is used for missing or unsupported extensions.
const DefaultExt = ".jpg"

var allowedExts = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// NormalizeExt lower-cases ext and maps anything outside the image
// allow-list, including the empty string, to DefaultExt.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return DefaultExt
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if _, ok := allowedExts[ext]; !ok {
		fwlog.Warnf("Unusual file extension: %s, using %s", ext, DefaultExt)
		return DefaultExt
	}
	return ext
}

// ExtFromPath is NormalizeExt applied to the extension of p.
func ExtFromPath(p string) string {
	return NormalizeExt(filepath.Ext(p))
}

// ContentTypeForKey infers the MIME type from the key extension.
func ContentTypeForKey(key string) string {
	if ct, ok := allowedExts[strings.ToLower(path.Ext(key))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// RemoteKey builds {folder}/{yyyymmdd}/{uuid}{ext}.
func RemoteKey(folder, ext string, now time.Time) string {
	return path.Join(cleanFolder(folder), now.Format("20060102"), uuid.NewString()+NormalizeExt(ext))
}

// LocalKey builds {folder}/{uuid}{ext}.
func LocalKey(folder, ext string) string {
	return path.Join(cleanFolder(folder), uuid.NewString()+NormalizeExt(ext))
}

// IDFromKey returns the unique-id component of a generated key.
func IDFromKey(key string) string {
	base := path.Base(key)
	return strings.TrimSuffix(base, path.Ext(base))
}

func cleanFolder(folder string) string {
	folder = strings.Trim(folder, "/ ")
	if folder == "" {
		return "generated"
	}
	return folder
}
