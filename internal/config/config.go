package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/fluxbase-eu/ssrpack/internal/observability"
)

// Config represents the build configuration
type Config struct {
	Root          string                     `mapstructure:"root"`
	OutDir        string                     `mapstructure:"out_dir"`
	ServerEntry   string                     `mapstructure:"server_entry"`
	SSR           bool                       `mapstructure:"ssr"`
	Mode          string                     `mapstructure:"mode"`
	Sourcemap     bool                       `mapstructure:"sourcemap"`
	WorkspaceRoot string                     `mapstructure:"workspace_root"`
	Standalone    StandaloneConfig           `mapstructure:"standalone"`
	ImportBuild   ImportBuildConfig          `mapstructure:"import_build"`
	Tracing       observability.TracerConfig `mapstructure:"tracing"`
	Metrics       MetricsConfig              `mapstructure:"metrics"`
	Debug         bool                       `mapstructure:"debug"`
}

// StandaloneConfig controls the standalone output
type StandaloneConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	Concurrency        int      `mapstructure:"concurrency"`
	NativeDependencies []string `mapstructure:"native_dependencies"`
	// TraceFile replays a recorded trace instead of resolving imports
	TraceFile string `mapstructure:"trace_file"`
	// Strict fails the build on imports the tracer cannot resolve
	Strict bool `mapstructure:"strict"`
}

// ImportBuildConfig controls the import-build bootstrap
type ImportBuildConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	PageFilesSource string `mapstructure:"page_files_source"`
	PageFilesEntry  string `mapstructure:"page_files_entry"`
	LoaderModule    string `mapstructure:"loader_module"`
	ClientDir       string `mapstructure:"client_dir"`
}

// MetricsConfig controls metrics export
type MetricsConfig struct {
	// File receives the metrics in the Prometheus text format after a build
	File string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables. An empty
// configFile searches for ssrpack.yaml in the usual locations.
func Load(configFile string) (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("ssrpack")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("SSRPACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Debug().Str("file", v.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from the first .env file found
func loadEnvFile() error {
	for _, location := range []string{".env", ".env.local"} {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Debug().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root", ".")
	v.SetDefault("out_dir", "dist/server")
	v.SetDefault("server_entry", "server/index.ts")
	v.SetDefault("ssr", true)
	v.SetDefault("mode", "production")
	v.SetDefault("sourcemap", false)
	v.SetDefault("workspace_root", "")

	// Standalone defaults
	v.SetDefault("standalone.enabled", true)
	v.SetDefault("standalone.concurrency", 10)
	v.SetDefault("standalone.native_dependencies", []string{})
	v.SetDefault("standalone.trace_file", "")
	v.SetDefault("standalone.strict", false)

	// Import-build defaults
	v.SetDefault("import_build.enabled", true)
	v.SetDefault("import_build.page_files_source", "")
	v.SetDefault("import_build.page_files_entry", "entries/pageFiles")
	v.SetDefault("import_build.loader_module", "vike/__internal/loadImportBuild")
	v.SetDefault("import_build.client_dir", "../client")

	// Tracing defaults
	tracing := observability.DefaultTracerConfig()
	v.SetDefault("tracing.enabled", tracing.Enabled)
	v.SetDefault("tracing.endpoint", tracing.Endpoint)
	v.SetDefault("tracing.service_name", tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", tracing.SampleRate)
	v.SetDefault("tracing.insecure", tracing.Insecure)

	v.SetDefault("metrics.file", "")
	v.SetDefault("debug", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.OutDir == "" {
		return fmt.Errorf("out_dir cannot be empty")
	}
	if c.ServerEntry == "" {
		return fmt.Errorf("server_entry cannot be empty")
	}
	if c.Standalone.Concurrency < 1 {
		return fmt.Errorf("standalone.concurrency must be at least 1, got %d", c.Standalone.Concurrency)
	}
	if c.ImportBuild.Enabled && c.ImportBuild.PageFilesEntry == "" {
		return fmt.Errorf("import_build.page_files_entry cannot be empty")
	}
	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
		}
	}
	return nil
}
