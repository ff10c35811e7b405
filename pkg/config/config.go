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
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fawa-io/roomdesign/pkg/fwlog"
)

type Config struct {
	Addr     string `mapstructure:"addr"`
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
	LogLevel string `mapstructure:"logLevel"`

	Storage StorageConfig `mapstructure:"storage"`
	Render  RenderConfig  `mapstructure:"render"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Staging StagingConfig `mapstructure:"staging"`
}

// StorageConfig selects the artifact backend. UseLocal switches from the
// remote object store to a directory on the local filesystem.
type StorageConfig struct {
	UseLocal bool        `mapstructure:"useLocal"`
	Folder   string      `mapstructure:"folder"`
	Local    LocalConfig `mapstructure:"local"`
	S3       S3Config    `mapstructure:"s3"`
}

type LocalConfig struct {
	Root string `mapstructure:"root"`
}

type S3Config struct {
	AccessKey string `mapstructure:"accessKey"`
	SecretKey string `mapstructure:"secretKey"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	// Endpoint defaults to the regional AWS endpoint when empty.
	Endpoint string `mapstructure:"endpoint"`
	UseSSL   bool   `mapstructure:"useSSL"`
}

// ResolvedEndpoint returns the host used both to dial the object store and
// to build public URLs.
func (c S3Config) ResolvedEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return fmt.Sprintf("s3.%s.amazonaws.com", c.Region)
}

type RenderConfig struct {
	Provider  string          `mapstructure:"provider"`
	Timeout   time.Duration   `mapstructure:"timeout"`
	Replicate ReplicateConfig `mapstructure:"replicate"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
}

type ReplicateConfig struct {
	Token   string `mapstructure:"token"`
	Version string `mapstructure:"version"`
	BaseURL string `mapstructure:"baseURL"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"apiKey"`
	Model  string `mapstructure:"model"`
}

type FetchConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// AllowPrivateNetworks lets downloads reach loopback and private
	// addresses. Leave it off unless the render service is self-hosted.
	AllowPrivateNetworks bool `mapstructure:"allowPrivateNetworks"`
}

// RedisConfig configures the artifact index. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type StagingConfig struct {
	// Dir is where staged images are written; empty means os.TempDir().
	Dir string `mapstructure:"dir"`
}

const (
	ProviderReplicate = "replicate"
	ProviderGemini    = "gemini"
)

var (
	once sync.Once

	mu sync.RWMutex

	config Config
)

func InitConfig() error {
	var initErr error
	once.Do(func() {
		initErr = LoadAndWatch()
	})
	return initErr
}

func Get() Config {
	mu.RLock()
	defer mu.RUnlock()
	return config
}

func LoadAndWatch() error {
	pflag.String("addr", "", "HTTP service address (e.g., '127.0.0.1:8000')")
	pflag.String("certFile", "", "Path to the TLS certificate file.")
	pflag.String("keyFile", "", "Path to the TLS private key file.")
	pflag.String("logLevel", "", "Log level: debug, info, warn, error.")
	pflag.Bool("storage.useLocal", false, "Store generated images on the local filesystem instead of S3.")
	pflag.Parse()

	v := viper.GetViper()
	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		return fmt.Errorf("failed to bind pflags: %w", err)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/roomdesign/")

	loaded, err := Load(v)
	if err != nil {
		return err
	}

	mu.Lock()
	config = loaded
	mu.Unlock()

	v.OnConfigChange(func(e fsnotify.Event) {
		fwlog.Infof("config file %s changed, reloading...", e.Name)

		mu.Lock()
		defer mu.Unlock()

		// Only the log level is hot-reloadable; backends are built once.
		newLevel := v.GetString("logLevel")
		lv, err := fwlog.ParseLevel(newLevel)
		if err != nil {
			fwlog.Warnf("New log level in config is invalid: %v. Keeping previous level.", err)
			return
		}
		fwlog.SetLevel(lv)
		config.LogLevel = newLevel
		fwlog.Infof("Log level reloaded successfully to: %s", newLevel)
	})
	v.WatchConfig()

	return nil
}

// Load reads .env, the environment and the config file known to v, then
// decodes and validates the result.
func Load(v *viper.Viper) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fwlog.Infof("Config file not found, using defaults and environment.")
		} else {
			return Config{}, fmt.Errorf("fatal error config file: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("the configuration cannot be decoded into the struct: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", "0.0.0.0:8000")
	v.SetDefault("certFile", "")
	v.SetDefault("keyFile", "")
	v.SetDefault("logLevel", "info")

	v.SetDefault("storage.useLocal", false)
	v.SetDefault("storage.folder", "generated")
	v.SetDefault("storage.local.root", "uploads")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.useSSL", true)

	v.SetDefault("render.provider", ProviderReplicate)
	v.SetDefault("render.timeout", 5*time.Minute)
	v.SetDefault("render.replicate.version", "39ed52f2a78e934b3ba6e2a89f5b1c712de7dfea535525255b1aa35c5565e08b")
	v.SetDefault("render.replicate.baseURL", "https://api.replicate.com/v1")
	v.SetDefault("render.gemini.model", "gemini-2.5-flash-image")

	v.SetDefault("fetch.timeout", 60*time.Second)
	v.SetDefault("fetch.allowPrivateNetworks", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("staging.dir", "")
}

// envBindings maps config keys to the environment variables the
// deployment already uses.
var envBindings = map[string][]string{
	"storage.useLocal":       {"USE_LOCAL_STORAGE"},
	"storage.s3.accessKey":   {"AWS_ACCESS_KEY_ID"},
	"storage.s3.secretKey":   {"AWS_SECRET_ACCESS_KEY"},
	"storage.s3.bucket":      {"AWS_S3_BUCKET"},
	"storage.s3.region":      {"AWS_REGION"},
	"storage.s3.endpoint":    {"AWS_S3_ENDPOINT"},
	"render.replicate.token": {"REPLICATE_API_TOKEN"},
	"render.gemini.apiKey":   {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"redis.addr":             {"REDIS_ADDR"},
	"redis.password":         {"REDIS_PASSWORD"},
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix("ROOMDESIGN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	return nil
}

// Validate fails fast on settings the process cannot start without.
func (c Config) Validate() error {
	if _, err := fwlog.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	if c.Storage.UseLocal {
		if strings.TrimSpace(c.Storage.Local.Root) == "" {
			return errors.New("storage.local.root is required when local storage is enabled")
		}
	} else {
		var missing []string
		if c.Storage.S3.AccessKey == "" {
			missing = append(missing, "AWS_ACCESS_KEY_ID")
		}
		if c.Storage.S3.SecretKey == "" {
			missing = append(missing, "AWS_SECRET_ACCESS_KEY")
		}
		if c.Storage.S3.Bucket == "" {
			missing = append(missing, "AWS_S3_BUCKET")
		}
		if c.Storage.S3.Region == "" {
			missing = append(missing, "AWS_REGION")
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing remote storage configuration: %s", strings.Join(missing, ", "))
		}
	}

	switch c.Render.Provider {
	case ProviderReplicate, ProviderGemini:
	default:
		return fmt.Errorf("unknown render provider %q", c.Render.Provider)
	}
	if c.Render.Timeout <= 0 {
		return errors.New("render.timeout must be positive")
	}
	if c.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be positive")
	}
	return nil
}
