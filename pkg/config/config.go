package config

import (
	"os"
	"time"

	"github.com/kbats183/simple-mjpeg-restreamer/pkg/mjpeg"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen   string         `mapstructure:"listen"`
	Log      LogConfig      `mapstructure:"log"`
	Source   SourceConfig   `mapstructure:"source"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
	File  string `mapstructure:"file"`
}

type SourceConfig struct {
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	FrameBufferSize int           `mapstructure:"frame_buffer_size"`
	MaxLineSize     int           `mapstructure:"max_line_size"`
}

type DeliveryConfig struct {
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	// FrameInterval paces frames written to a viewer. Firefox does not
	// render the stream without it.
	FrameInterval time.Duration `mapstructure:"frame_interval"`
}

type AuthConfig struct {
	User string `mapstructure:"user"`
	Pass string `mapstructure:"pass"`
}

func Default() *Config {
	return &Config{
		Listen: ":6070",
		Log: LogConfig{
			Level: "info",
			File:  "simple-mjpeg-restreamer.log",
		},
		Source: SourceConfig{
			ConnectTimeout:  mjpeg.DefaultConnectTimeout,
			ReadTimeout:     mjpeg.DefaultReadTimeout,
			FrameBufferSize: mjpeg.DefaultFrameBufferSize,
		},
		Delivery: DeliveryConfig{
			RetryAttempts: mjpeg.DefaultRetryAttempts,
			RetryDelay:    mjpeg.DefaultRetryDelay,
			FrameInterval: 100 * time.Millisecond,
		},
	}
}

// Load reads a YAML config file over the defaults and applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config")
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping the values of keys the document does
// not set. Durations are written as strings ("1s", "250ms").
func Parse(data []byte, cfg *Config) error {
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "parse yaml")
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return errors.Wrap(err, "create decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return errors.Wrap(err, "decode config")
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MJPEG_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("MJPEG_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("BASIC_AUTH_USER"); v != "" {
		c.Auth.User = v
	}
	if v := os.Getenv("BASIC_AUTH_PASS"); v != "" {
		c.Auth.Pass = v
	}
}

func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is empty")
	}
	if c.Source.FrameBufferSize <= 0 {
		return errors.Errorf("source.frame_buffer_size must be positive, got %d", c.Source.FrameBufferSize)
	}
	if c.Source.MaxLineSize < 0 {
		return errors.Errorf("source.max_line_size must not be negative, got %d", c.Source.MaxLineSize)
	}
	if c.Delivery.RetryAttempts <= 0 {
		return errors.Errorf("delivery.retry_attempts must be positive, got %d", c.Delivery.RetryAttempts)
	}
	if c.Delivery.FrameInterval < 0 {
		return errors.New("delivery.frame_interval must not be negative")
	}
	return nil
}

// SourceOptions converts the source and delivery sections into decoder
// options.
func (c *Config) SourceOptions() mjpeg.Options {
	return mjpeg.Options{
		ConnectTimeout:  c.Source.ConnectTimeout,
		ReadTimeout:     c.Source.ReadTimeout,
		FrameBufferSize: c.Source.FrameBufferSize,
		MaxLineSize:     c.Source.MaxLineSize,
		RetryAttempts:   c.Delivery.RetryAttempts,
		RetryDelay:      c.Delivery.RetryDelay,
	}
}
