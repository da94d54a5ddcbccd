package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Brownie44l1/lungscan-api/internal/imaging"
	"github.com/Brownie44l1/lungscan-api/internal/model"
	"github.com/spf13/viper"
)

type Configs struct {
	// App configuration
	AppName               string  `mapstructure:"app_name"`
	AppEnv                string  `mapstructure:"app_env"`
	AppLogLevel           string  `mapstructure:"app_log_level"`
	AppPort               int     `mapstructure:"app_port"`
	AppMetricSamplingRate float64 `mapstructure:"app_metric_sampling_rate"`

	// Telegraf configuration
	TelegrafHost string `mapstructure:"telegraf_host"`
	TelegrafPort string `mapstructure:"telegraf_port"`

	// Upload configuration
	UploadDir               string   `mapstructure:"upload_dir"`
	UploadMaxBytes          int64    `mapstructure:"upload_max_bytes"`
	UploadAllowedExtensions []string `mapstructure:"upload_allowed_extensions"`
	UploadFieldNames        []string `mapstructure:"upload_field_names"`

	// Preprocessing configuration
	ScratchEnabled         bool    `mapstructure:"scratch_enabled"`
	ScratchDir             string  `mapstructure:"scratch_dir"`
	NormalizedSize         int     `mapstructure:"normalized_size"`
	ValidatorMaxDivergence float64 `mapstructure:"validator_max_divergence"`
	DecodeMaxPixels        int     `mapstructure:"decode_max_pixels"`

	// Model configuration
	OnnxSharedLibraryPath string       `mapstructure:"onnx_shared_library_path"`
	ClassLabels           []string     `mapstructure:"class_labels"`
	Models                []model.Spec `mapstructure:"models"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "lungscan-api")
	v.SetDefault("app_env", "local")
	v.SetDefault("app_log_level", "INFO")
	v.SetDefault("app_port", 8080)
	v.SetDefault("app_metric_sampling_rate", 1.0)
	v.SetDefault("telegraf_host", "localhost")
	v.SetDefault("telegraf_port", "8125")
	v.SetDefault("upload_dir", "uploads")
	v.SetDefault("upload_max_bytes", 10<<20)
	v.SetDefault("upload_allowed_extensions", []string{"png", "jpg", "jpeg"})
	v.SetDefault("upload_field_names", []string{"scan", "file", "image"})
	v.SetDefault("scratch_enabled", true)
	v.SetDefault("scratch_dir", "preprocessed")
	v.SetDefault("normalized_size", imaging.DefaultSize)
	v.SetDefault("validator_max_divergence", imaging.DefaultMaxDivergence)
	v.SetDefault("decode_max_pixels", imaging.DefaultMaxPixels)
	v.SetDefault("class_labels", model.DefaultLabels)
}

// Load reads configuration from defaults, the optional file and the
// environment, in increasing order of precedence. Environment variables use
// the upper-cased key, e.g. APP_PORT.
func Load(file string) (*Configs, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	var cfg Configs
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings the service cannot start without.
func (c *Configs) Validate() error {
	var errs []error
	if c.AppPort <= 0 || c.AppPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid app_port %d", c.AppPort))
	}
	if c.NormalizedSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid normalized_size %d", c.NormalizedSize))
	}
	if c.DecodeMaxPixels <= 0 {
		errs = append(errs, fmt.Errorf("invalid decode_max_pixels %d", c.DecodeMaxPixels))
	}
	if c.UploadMaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("invalid upload_max_bytes %d", c.UploadMaxBytes))
	}
	if len(c.ClassLabels) == 0 {
		errs = append(errs, errors.New("class_labels must not be empty"))
	}
	if len(c.Models) == 0 {
		errs = append(errs, errors.New("no models configured"))
	}
	for i, m := range c.Models {
		if m.Name == "" || m.ModelPath == "" || m.MetadataPath == "" {
			errs = append(errs, fmt.Errorf("models[%d]: name, model_path and metadata_path are required", i))
		}
		if m.Width < 0 || m.Height < 0 {
			errs = append(errs, fmt.Errorf("models[%d]: negative size", i))
		}
	}
	return errors.Join(errs...)
}

// AllowedExtension reports whether filename ends in one of the configured
// upload extensions, compared case-insensitively.
func (c *Configs) AllowedExtension(filename string) bool {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return false
	}
	ext := strings.ToLower(filename[idx+1:])
	for _, allowed := range c.UploadAllowedExtensions {
		if ext == strings.ToLower(strings.TrimPrefix(allowed, ".")) {
			return true
		}
	}
	return false
}
