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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load consults so the host environment
// cannot leak into a case.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, envs := range envBindings {
		for _, e := range envs {
			t.Setenv(e, "")
		}
	}
}

func writeConfig(t *testing.T, body string) *viper.Viper {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	return v
}

func TestLoad_LocalBackendDefaults(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	v := writeConfig(t, "storage:\n  useLocal: true\n  local:\n    root: "+root+"\n")

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.True(t, cfg.Storage.UseLocal)
	assert.Equal(t, root, cfg.Storage.Local.Root)
	assert.Equal(t, "generated", cfg.Storage.Folder)
	assert.Equal(t, ProviderReplicate, cfg.Render.Provider)
	assert.Equal(t, 5*time.Minute, cfg.Render.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_RemoteBackendFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIAEXAMPLE")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_S3_BUCKET", "room-designer")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("REPLICATE_API_TOKEN", "r8_token")
	v := writeConfig(t, "logLevel: debug\n")

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.False(t, cfg.Storage.UseLocal)
	assert.Equal(t, "AKIAEXAMPLE", cfg.Storage.S3.AccessKey)
	assert.Equal(t, "room-designer", cfg.Storage.S3.Bucket)
	assert.Equal(t, "eu-west-1", cfg.Storage.S3.Region)
	assert.Equal(t, "s3.eu-west-1.amazonaws.com", cfg.Storage.S3.ResolvedEndpoint())
	assert.Equal(t, "r8_token", cfg.Render.Replicate.Token)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_UseLocalStorageEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("USE_LOCAL_STORAGE", "true")
	v := writeConfig(t, "addr: 127.0.0.1:9000\n")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.True(t, cfg.Storage.UseLocal)
	assert.Equal(t, "uploads", cfg.Storage.Local.Root)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
}

func TestLoad_FailsFastOnMissingRemoteSettings(t *testing.T) {
	clearEnv(t)
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIAEXAMPLE")
	v := writeConfig(t, "storage:\n  s3:\n    region: us-east-1\n")

	_, err := Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AWS_SECRET_ACCESS_KEY")
	assert.Contains(t, err.Error(), "AWS_S3_BUCKET")
	assert.NotContains(t, err.Error(), "AWS_ACCESS_KEY_ID")
	assert.NotContains(t, err.Error(), "AWS_REGION")
}

func TestLoad_MissingConfigFileIsFatal(t *testing.T) {
	clearEnv(t)
	v := viper.New()
	v.SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load(v)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			LogLevel: "info",
			Storage:  StorageConfig{UseLocal: true, Local: LocalConfig{Root: "uploads"}},
			Render:   RenderConfig{Provider: ProviderGemini, Timeout: time.Minute},
			Fetch:    FetchConfig{Timeout: time.Minute},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"blank local root", func(c *Config) { c.Storage.Local.Root = "  " }, true},
		{"unknown provider", func(c *Config) { c.Render.Provider = "dalle" }, true},
		{"zero render timeout", func(c *Config) { c.Render.Timeout = 0 }, true},
		{"zero fetch timeout", func(c *Config) { c.Fetch.Timeout = 0 }, true},
		{"remote without credentials", func(c *Config) { c.Storage.UseLocal = false }, true},
		{"remote complete", func(c *Config) {
			c.Storage.UseLocal = false
			c.Storage.S3 = S3Config{AccessKey: "a", SecretKey: "s", Bucket: "b", Region: "r"}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolvedEndpoint(t *testing.T) {
	assert.Equal(t, "s3.us-east-1.amazonaws.com", S3Config{Region: "us-east-1"}.ResolvedEndpoint())
	assert.Equal(t, "minio.local:9000", S3Config{Region: "us-east-1", Endpoint: "minio.local:9000"}.ResolvedEndpoint())
}
