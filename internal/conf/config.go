// config.go: settings for patchwork sessions and the functions to load and save them.
package conf

import (
	"bytes"
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// EnvPrefix is the prefix of environment overrides, e.g. PATCHWORK_ACTIVELEARNING_EPSILON.
const EnvPrefix = "PATCHWORK"

// DataSettings locates the inputs of a session.
type DataSettings struct {
	Features     string `yaml:"features" mapstructure:"features"`         // feature file, one row per table row
	Table        string `yaml:"table" mapstructure:"table"`               // CSV with filepath and class columns
	Class        string `yaml:"class" mapstructure:"class"`               // class column labeled in this session
	TestFeatures string `yaml:"testfeatures" mapstructure:"testfeatures"` // optional held-out features
	TestTable    string `yaml:"testtable" mapstructure:"testtable"`       // optional held-out table
}

// ImageSettings controls how images are read for display and extraction.
type ImageSettings struct {
	Height        int           `yaml:"height" mapstructure:"height" validate:"gt=0"`
	Width         int           `yaml:"width" mapstructure:"width" validate:"gt=0"`
	Channels      int           `yaml:"channels" mapstructure:"channels" validate:"gt=0"`
	Norm          float32       `yaml:"norm" mapstructure:"norm" validate:"gt=0"`
	SingleChannel bool          `yaml:"singlechannel" mapstructure:"singlechannel"`
	Sobel         bool          `yaml:"sobel" mapstructure:"sobel"`
	Workers       int           `yaml:"workers" mapstructure:"workers" validate:"gte=0"` // 0 picks from the CPU
	CacheTTL      time.Duration `yaml:"cachettl" mapstructure:"cachettl" validate:"gte=0"`
}

// ActiveLearningSettings are the loop parameters.
type ActiveLearningSettings struct {
	BatchSize   int     `yaml:"batchsize" mapstructure:"batchsize" validate:"gt=0"`
	Epochs      int     `yaml:"epochs" mapstructure:"epochs" validate:"gt=0"`
	MinCount    int     `yaml:"mincount" mapstructure:"mincount" validate:"gte=0"`
	Epsilon     float64 `yaml:"epsilon" mapstructure:"epsilon" validate:"gte=0,lte=1"`
	Stratify    bool    `yaml:"stratify" mapstructure:"stratify"`
	MaxFitBatch int     `yaml:"maxfitbatch" mapstructure:"maxfitbatch" validate:"gt=0"`
	Iterations  int     `yaml:"iterations" mapstructure:"iterations" validate:"gte=0"` // 0 runs until the pool is exhausted
}

// ModelSettings configures the pooling head.
type ModelSettings struct {
	LearningRate float64 `yaml:"learningrate" mapstructure:"learningrate" validate:"gt=0"`
	Workers      int     `yaml:"workers" mapstructure:"workers" validate:"gte=0"`
}

// ExtractorSettings configures TFLite feature extraction.
type ExtractorSettings struct {
	ModelPath string `yaml:"modelpath" mapstructure:"modelpath"`
	Output    string `yaml:"output" mapstructure:"output"`
	Threads   int    `yaml:"threads" mapstructure:"threads" validate:"gte=0"`
	BatchSize int    `yaml:"batchsize" mapstructure:"batchsize" validate:"gt=0"`
}

// SQLiteSettings holds the SQLite database file.
type SQLiteSettings struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// MySQLSettings holds MySQL connection parameters.
type MySQLSettings struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// DatastoreSettings configures label persistence.
type DatastoreSettings struct {
	Enabled            bool           `yaml:"enabled" mapstructure:"enabled"`
	Driver             string         `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite mysql"`
	SQLite             SQLiteSettings `yaml:"sqlite" mapstructure:"sqlite"`
	MySQL              MySQLSettings  `yaml:"mysql" mapstructure:"mysql"`
	SlowQueryThreshold time.Duration  `yaml:"slowquerythreshold" mapstructure:"slowquerythreshold"`
}

// WebServerSettings configures the web annotator.
type WebServerSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// MetricsSettings configures the standalone Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

// DisplaySettings configures the terminal grid.
type DisplaySettings struct {
	Columns     int `yaml:"columns" mapstructure:"columns" validate:"gt=0"`
	ThumbWidth  int `yaml:"thumbwidth" mapstructure:"thumbwidth" validate:"gt=0"`
	ThumbHeight int `yaml:"thumbheight" mapstructure:"thumbheight" validate:"gt=0"`
}

// OutputSettings controls what a session writes when it ends.
type OutputSettings struct {
	Report string `yaml:"report" mapstructure:"report"` // YAML run report, empty to skip
	Labels string `yaml:"labels" mapstructure:"labels"` // CSV of the final labels, empty to skip
}

// Settings is the root configuration.
type Settings struct {
	Debug bool   `yaml:"debug" mapstructure:"debug"`
	Seed  uint64 `yaml:"seed" mapstructure:"seed"`

	Logging        logger.LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Data           DataSettings           `yaml:"data" mapstructure:"data"`
	Image          ImageSettings          `yaml:"image" mapstructure:"image"`
	ActiveLearning ActiveLearningSettings `yaml:"activelearning" mapstructure:"activelearning"`
	Model          ModelSettings          `yaml:"model" mapstructure:"model"`
	Extractor      ExtractorSettings      `yaml:"extractor" mapstructure:"extractor"`
	Datastore      DatastoreSettings      `yaml:"datastore" mapstructure:"datastore"`
	WebServer      WebServerSettings      `yaml:"webserver" mapstructure:"webserver"`
	Metrics        MetricsSettings        `yaml:"metrics" mapstructure:"metrics"`
	Sentry         SentrySettings         `yaml:"sentry" mapstructure:"sentry"`
	Display        DisplaySettings        `yaml:"display" mapstructure:"display"`
	Output         OutputSettings         `yaml:"output" mapstructure:"output"`
}

// Load reads settings into v. An explicit configFile wins; otherwise the
// default config paths are searched, and when nothing is found the embedded
// defaults are used as they are. Environment variables override both.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	if err := initViper(v, configFile); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	return settings, nil
}

// initViper applies defaults, environment bindings and the configuration file.
func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				FileContext(configFile).
				Build()
		}
		return nil
	}

	v.SetConfigName("config")
	for _, path := range GetDefaultConfigPaths() {
		v.AddConfigPath(path)
	}
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "read-config").
			Build()
	}

	// no file anywhere: fall back to the embedded defaults
	if err := v.ReadConfig(bytes.NewReader(DefaultConfig())); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "read-embedded-config").
			Build()
	}
	return nil
}

// DefaultConfig returns the embedded config.yaml.
func DefaultConfig() []byte {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		panic("conf: embedded config.yaml missing: " + err.Error())
	}
	return data
}

// WriteDefaultConfig writes the embedded config.yaml to path unless a file already exists there.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("conf: %s already exists", path).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.FileError(err, path)
	}
	if err := os.WriteFile(path, DefaultConfig(), 0o644); err != nil {
		return errors.FileError(err, path)
	}
	return nil
}

// SaveYAMLConfig writes settings to configPath atomically.
// Comments and ordering of an existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "marshal").
			Build()
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return errors.FileError(err, configPath)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return errors.FileError(err, tempFileName)
	}
	if err := tempFile.Close(); err != nil {
		return errors.FileError(err, tempFileName)
	}
	if err := os.Rename(tempFileName, configPath); err != nil {
		return errors.FileError(err, configPath)
	}
	return nil
}
