package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"provkit/internal/artifact"
)

// EnvPrefix namespaces every configuration environment variable.
const EnvPrefix = "PROVKIT"

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Defaults carries the values that depend on the recipe being run.
type Defaults struct {
	Name  string
	Label string
}

// Load builds the configuration from built-in defaults, the optional YAML
// file at configFile and PROVKIT_* environment variables, in increasing
// order of precedence.
func Load(defaults Defaults, configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v, defaults)

	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configFile)
		}
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file - malformed YAML: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := deriveDefaults(&cfg); err != nil {
		return nil, err
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, formatValidationError(err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Defaults) {
	v.SetDefault("run.name", d.Name)
	v.SetDefault("run.label", d.Label)

	v.SetDefault("apt.mirror", "https://cloud.r-project.org")
	v.SetDefault("apt.release", "jammy")
	v.SetDefault("apt.sources_dir", "/etc/apt/sources.list.d")
	v.SetDefault("apt.keyserver", "keyserver.ubuntu.com")
	v.SetDefault("apt.key_id", "E298A3A825C0D65DFD57CBB651716619E084DAB9")

	v.SetDefault("packages.base", "r-base r-base-dev")
	v.SetDefault("packages.jags", "jags r-cran-rjags")
	v.SetDefault("packages.extra", "libcurl4-openssl-dev libssl-dev libxml2-dev mesa-common-dev libglu1-mesa-dev")

	v.SetDefault("download.url", "https://download2.rstudio.org/server/jammy/amd64/rstudio-server-2023.12.1-402-amd64.deb")
	v.SetDefault("download.file", "")
	v.SetDefault("download.timeout", "10m")
	v.SetDefault("exec.timeout", "30m")

	v.SetDefault("paths.log_dir", "/var/log/provkit")
	v.SetDefault("paths.log_file", "")
	v.SetDefault("paths.config_dir", "/etc/provkit")
	v.SetDefault("paths.status_file", "")
	v.SetDefault("log.max_size_mb", 10)

	v.SetDefault("helper.lib_dir", "/usr/local/lib/R/site-library")
	v.SetDefault("helper.bin_dir", "/usr/local/bin")
	v.SetDefault("helper.name", "Rsite")

	v.SetDefault("source.repo", "https://github.com/rstudio/rstudio-conf.git")
	v.SetDefault("source.branch", "master")
	v.SetDefault("source.subdir", "code")
	v.SetDefault("source.gitlab_url", "https://gitlab.com")
	v.SetDefault("source.gitlab_project", "")

	v.SetDefault("links.dest_dir", "/opt/provkit/code")
	v.SetDefault("links.alias", "code")
	v.SetDefault("links.useradd_file", "/etc/default/useradd")
	v.SetDefault("links.reserved", "lost+found")
}

// deriveDefaults fills settings whose defaults are computed from others.
func deriveDefaults(cfg *Config) error {
	if cfg.Paths.LogFile == "" && cfg.Run.Name != "" {
		cfg.Paths.LogFile = filepath.Join(cfg.Paths.LogDir, cfg.Run.Name+".log")
	}
	if cfg.Paths.StatusFile == "" && cfg.Run.Name != "" {
		cfg.Paths.StatusFile = filepath.Join(cfg.Paths.ConfigDir, cfg.Run.Name+".done")
	}
	if cfg.Download.File == "" && cfg.Download.URL != "" {
		name, err := artifact.FileName(cfg.Download.URL)
		if err != nil {
			return fmt.Errorf("validation error: %w", err)
		}
		cfg.Download.File = name
	}
	return nil
}

// Dump renders cfg as YAML.
func Dump(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to render configuration: %w", err)
	}
	return out, nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var errorMessages []string
		for _, e := range validationErrors {
			errorMessages = append(errorMessages, formatFieldError(e))
		}

		if len(errorMessages) == 1 {
			return fmt.Errorf("validation error: %s", errorMessages[0])
		}

		result := "validation errors:\n"
		for _, msg := range errorMessages {
			result += fmt.Sprintf("  - %s\n", msg)
		}
		return fmt.Errorf("%s", result)
	}
	return fmt.Errorf("validation failed: %w", err)
}

// formatFieldError formats a single validation error into a user-friendly message.
func formatFieldError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("field '%s' is required but missing", field)
	case "url":
		return fmt.Sprintf("field '%s' must be a valid URL", field)
	case "hexadecimal":
		return fmt.Sprintf("field '%s' must be a hexadecimal key fingerprint", field)
	case "excludesall":
		return fmt.Sprintf("field '%s' must not contain any of %q", field, e.Param())
	case "gt":
		return fmt.Sprintf("field '%s' must be greater than %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("field '%s' must be at least %s", field, e.Param())
	default:
		return fmt.Sprintf("field '%s' failed validation (%s)", field, tag)
	}
}

