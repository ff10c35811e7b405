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
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fawa-io/roomdesign/pkg/config"
)

const indexKeyPrefix = "artifact:"

// Index remembers persisted objects by id so they can be looked up later.
type Index interface {
	Save(ctx context.Context, obj *Object) error
	Lookup(ctx context.Context, id string) (*Object, error)
}

// DragonflyIndex implements Index on Dragonfly/Redis.
type DragonflyIndex struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewDragonflyIndex connects to the server described by cfg.
func NewDragonflyIndex(ctx context.Context, cfg config.RedisConfig) (*DragonflyIndex, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	// Check the connection.
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to index at %s: %w", cfg.Addr, err)
	}
	return &DragonflyIndex{client: client, ttl: cfg.TTL}, nil
}

// Save stores obj under its id for the configured TTL.
func (d *DragonflyIndex) Save(ctx context.Context, obj *Object) error {
	if obj == nil {
		return errors.New("object cannot be nil")
	}
	if obj.ID == "" {
		return errors.New("object id cannot be empty")
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return d.client.Set(ctx, indexKeyPrefix+obj.ID, raw, d.ttl).Err()
}

// Lookup returns the object saved under id or ErrNotFound.
func (d *DragonflyIndex) Lookup(ctx context.Context, id string) (*Object, error) {
	val, err := d.client.Get(ctx, indexKeyPrefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: artifact %s", ErrNotFound, id)
		}
		return nil, err
	}

	var obj Object
	if err := json.Unmarshal([]byte(val), &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}
