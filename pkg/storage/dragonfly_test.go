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
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
)

func TestDragonflyIndex_Save(t *testing.T) {
	client, mock := redismock.NewClientMock()

	index := &DragonflyIndex{client: client, ttl: 24 * time.Hour}

	testCases := []struct {
		name    string
		obj     *Object
		mocker  func()
		wantErr bool
	}{
		{
			name: "success",
			obj: &Object{
				ID:          "abc",
				Key:         "generated/20260101/abc.jpg",
				Reference:   "https://bucket.s3.amazonaws.com/generated/20260101/abc.jpg",
				ContentType: "image/jpeg",
				Size:        123,
			},
			mocker: func() {
				raw, _ := json.Marshal(&Object{
					ID:          "abc",
					Key:         "generated/20260101/abc.jpg",
					Reference:   "https://bucket.s3.amazonaws.com/generated/20260101/abc.jpg",
					ContentType: "image/jpeg",
					Size:        123,
				})
				mock.ExpectSet("artifact:abc", raw, 24*time.Hour).SetVal("OK")
			},
			wantErr: false,
		},
		{
			name:    "nil object",
			obj:     nil,
			mocker:  func() {},
			wantErr: true,
		},
		{
			name:    "empty id",
			obj:     &Object{Key: "generated/x.jpg"},
			mocker:  func() {},
			wantErr: true,
		},
		{
			name: "redis error",
			obj:  &Object{ID: "err"},
			mocker: func() {
				raw, _ := json.Marshal(&Object{ID: "err"})
				mock.ExpectSet("artifact:err", raw, 24*time.Hour).SetErr(errors.New("redis error"))
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.mocker()
			err := index.Save(context.Background(), tc.obj)
			if (err != nil) != tc.wantErr {
				t.Errorf("Save() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("there were unfulfilled expectations: %s", err)
			}
		})
	}
}

func TestDragonflyIndex_Lookup(t *testing.T) {
	client, mock := redismock.NewClientMock()

	index := &DragonflyIndex{client: client, ttl: time.Hour}

	testCases := []struct {
		name         string
		id           string
		mocker       func()
		wantResult   *Object
		wantErr      bool
		wantNotFound bool
	}{
		{
			name: "success",
			id:   "abc",
			mocker: func() {
				raw, _ := json.Marshal(&Object{ID: "abc", Key: "generated/abc.png", Size: 7})
				mock.ExpectGet("artifact:abc").SetVal(string(raw))
			},
			wantResult: &Object{ID: "abc", Key: "generated/abc.png", Size: 7},
			wantErr:    false,
		},
		{
			name: "key not found",
			id:   "missing",
			mocker: func() {
				mock.ExpectGet("artifact:missing").SetErr(redis.Nil)
			},
			wantResult:   nil,
			wantErr:      true,
			wantNotFound: true,
		},
		{
			name: "json unmarshal error",
			id:   "invalid",
			mocker: func() {
				mock.ExpectGet("artifact:invalid").SetVal("invalid json")
			},
			wantResult: nil,
			wantErr:    true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.mocker()
			got, err := index.Lookup(context.Background(), tc.id)
			if (err != nil) != tc.wantErr {
				t.Errorf("Lookup() error = %v, wantErr %v", err, tc.wantErr)
				return
			}
			if tc.wantNotFound && !errors.Is(err, ErrNotFound) {
				t.Errorf("Lookup() error = %v, want ErrNotFound", err)
			}
			if !reflect.DeepEqual(got, tc.wantResult) {
				t.Errorf("Lookup() got = %v, want %v", got, tc.wantResult)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("there were unfulfilled expectations: %s", err)
			}
		})
	}
}
