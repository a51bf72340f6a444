package config

import (
	"strings"
	"time"
)

// Config is the effective configuration of one provisioning run. It is
// built once by Load and treated as read-only afterwards.
type Config struct {
	Run      RunConfig      `mapstructure:"run" yaml:"run"`
	Apt      AptConfig      `mapstructure:"apt" yaml:"apt"`
	Packages PackagesConfig `mapstructure:"packages" yaml:"packages"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Exec     ExecConfig     `mapstructure:"exec" yaml:"exec"`
	Paths    PathsConfig    `mapstructure:"paths" yaml:"paths"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Helper   HelperConfig   `mapstructure:"helper" yaml:"helper"`
	Source   SourceConfig   `mapstructure:"source" yaml:"source"`
	Links    LinksConfig    `mapstructure:"links" yaml:"links"`
}

type RunConfig struct {
	Name  string `mapstructure:"name" yaml:"name" validate:"required,excludesall=/ "`
	Label string `mapstructure:"label" yaml:"label" validate:"required"`
}

type AptConfig struct {
	Mirror     string `mapstructure:"mirror" yaml:"mirror" validate:"required,url"`
	Release    string `mapstructure:"release" yaml:"release" validate:"required"`
	SourcesDir string `mapstructure:"sources_dir" yaml:"sources_dir" validate:"required"`
	Keyserver  string `mapstructure:"keyserver" yaml:"keyserver" validate:"required"`
	KeyID      string `mapstructure:"key_id" yaml:"key_id" validate:"required,hexadecimal"`
}

// PackagesConfig holds whitespace-separated package lists.
type PackagesConfig struct {
	Base  string `mapstructure:"base" yaml:"base" validate:"required"`
	Jags  string `mapstructure:"jags" yaml:"jags" validate:"required"`
	Extra string `mapstructure:"extra" yaml:"extra"`
}

type DownloadConfig struct {
	URL     string        `mapstructure:"url" yaml:"url" validate:"required,url"`
	File    string        `mapstructure:"file" yaml:"file" validate:"required,excludesall=/"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
}

type ExecConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
}

type PathsConfig struct {
	LogDir     string `mapstructure:"log_dir" yaml:"log_dir" validate:"required"`
	LogFile    string `mapstructure:"log_file" yaml:"log_file" validate:"required"`
	ConfigDir  string `mapstructure:"config_dir" yaml:"config_dir" validate:"required"`
	StatusFile string `mapstructure:"status_file" yaml:"status_file" validate:"required"`
}

type LogConfig struct {
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"gte=1"`
}

// MaxSizeBytes returns the rotation threshold in bytes.
func (l LogConfig) MaxSizeBytes() int64 {
	return int64(l.MaxSizeMB) * 1024 * 1024
}

// HelperConfig locates the generated site-library helper script.
type HelperConfig struct {
	LibDir string `mapstructure:"lib_dir" yaml:"lib_dir" validate:"required"`
	BinDir string `mapstructure:"bin_dir" yaml:"bin_dir" validate:"required"`
	Name   string `mapstructure:"name" yaml:"name" validate:"required,excludesall=/"`
}

type SourceConfig struct {
	Repo          string `mapstructure:"repo" yaml:"repo" validate:"required"`
	Branch        string `mapstructure:"branch" yaml:"branch"`
	Subdir        string `mapstructure:"subdir" yaml:"subdir" validate:"required"`
	GitLabURL     string `mapstructure:"gitlab_url" yaml:"gitlab_url" validate:"omitempty,url"`
	GitLabProject string `mapstructure:"gitlab_project" yaml:"gitlab_project"`
}

type LinksConfig struct {
	DestDir     string `mapstructure:"dest_dir" yaml:"dest_dir" validate:"required"`
	Alias       string `mapstructure:"alias" yaml:"alias" validate:"required,excludesall=/"`
	UseraddFile string `mapstructure:"useradd_file" yaml:"useradd_file" validate:"required"`
	Reserved    string `mapstructure:"reserved" yaml:"reserved"`
}

// Fields splits a whitespace-separated list.
func Fields(list string) []string {
	return strings.Fields(list)
}
