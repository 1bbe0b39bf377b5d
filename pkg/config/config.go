package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	SQLite  SQLiteConfig
	Model   ModelConfig
	Uploads UploadsConfig
	App     AppConfig
	Redis   RedisConfig
	Metrics MetricsConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        int
	WriteTimeout       int
	BodyLimit          int
	RateLimitPerMinute int
	Development        bool
	AllowedOrigins     []string
}

type SQLiteConfig struct {
	Path string
}

// ModelConfig points at the exported classifier and its label file.
// ScoreScale divides the winning raw score into a confidence. Zero follows
// the model's output type: 255 for uint8 outputs, 1 for float outputs.
// MaxImagePixels bounds the declared size of an uploaded image.
type ModelConfig struct {
	Path           string
	LabelsPath     string
	LibraryPath    string
	InputName      string
	OutputName     string
	ScoreScale     float64
	MaxImagePixels int64
}

type UploadsConfig struct {
	Dir       string
	URLPrefix string
}

type AppConfig struct {
	Timezone string
}

type RedisConfig struct {
	Enabled    bool
	Host       string
	Port       int
	Password   string
	DB         int
	TTLSeconds int
}

type MetricsConfig struct {
	Enabled bool
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Location resolves the configured timezone, falling back to the process
// local zone when unset.
func (a AppConfig) Location() (*time.Location, error) {
	if a.Timezone == "" || strings.EqualFold(a.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", a.Timezone, err)
	}
	return loc, nil
}

// Load reads config.yaml from the default search paths. A non-empty path
// overrides the search and must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/gutlog")
	}

	v.SetEnvPrefix("GUTLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Model.ScoreScale < 0 {
		return nil, fmt.Errorf("model.scoreScale must not be negative, got %v", config.Model.ScoreScale)
	}
	if config.Model.MaxImagePixels <= 0 {
		return nil, fmt.Errorf("model.maxImagePixels must be positive, got %v", config.Model.MaxImagePixels)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.rateLimitPerMinute", 30)
	v.SetDefault("server.development", false)
	v.SetDefault("server.allowedOrigins", []string{})

	v.SetDefault("sqlite.path", "./data/history.db")

	v.SetDefault("model.path", "./model/model.onnx")
	v.SetDefault("model.labelsPath", "./model/labels.txt")
	v.SetDefault("model.libraryPath", "")
	v.SetDefault("model.inputName", "")
	v.SetDefault("model.outputName", "")
	v.SetDefault("model.scoreScale", 0.0)
	v.SetDefault("model.maxImagePixels", 8192*8192)

	v.SetDefault("uploads.dir", "./uploads")
	v.SetDefault("uploads.urlPrefix", "/uploads")

	v.SetDefault("app.timezone", "Local")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlSeconds", 300)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
