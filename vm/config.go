// Package vm implements the x86 user-space emulator that loads a 32-bit
// Windows PE image and executes its code against a synthesized Windows-like
// environment.
package vm

import (
	"os"
	"strings"

	"github.com/go-kratos/kratos/v2/log"
	"gopkg.in/yaml.v3"

	"github.com/m3m0r7/pevm/registry"
)

// Os identifies the guest operating system personality the VM presents.
type Os int

const (
	OsWindows Os = iota
	OsUnix
	OsMac
)

// Architecture identifies the guest instruction set.
type Architecture int

const (
	ArchX86 Architecture = iota
	ArchX86_64
)

// MessageBoxMode selects how a user32.MessageBoxA stub resolves a call.
type MessageBoxMode int

const (
	MessageBoxDialog MessageBoxMode = iota
	MessageBoxStdout
	MessageBoxSilent
)

// PathMapping is a guest-prefix -> host-prefix table consulted by MapPath
// using longest-prefix match, so its iteration order does not matter.
type PathMapping map[string]string

// SandboxConfig gates host-side controls like outbound network access.
type SandboxConfig struct {
	NetworkEnabled      bool
	NetworkFallbackHost string
}

// NewSandboxConfig returns a sandbox with networking disabled.
func NewSandboxConfig() *SandboxConfig {
	return &SandboxConfig{}
}

// EnableNetwork turns networking on, optionally with a fallback host used
// when a connection target isn't allow-listed.
func (s *SandboxConfig) EnableNetwork(host string) *SandboxConfig {
	s.NetworkEnabled = true
	s.NetworkFallbackHost = host
	return s
}

// DisableNetwork turns networking back off.
func (s *SandboxConfig) DisableNetwork() *SandboxConfig {
	s.NetworkEnabled = false
	s.NetworkFallbackHost = ""
	return s
}

const defaultExecutionLimit = 1_000_000

// Config configures a VM instance. It mirrors pe.Options: a plain struct
// set up by the caller and passed by pointer, rather than a builder.
type Config struct {
	Os              Os
	Architecture    Architecture
	Paths           PathMapping
	ExecutionLimit  uint64
	Sandbox         *SandboxConfig
	Properties      *registry.Registry
	FontPath        string
	MessageBoxMode  MessageBoxMode
	Trace           bool
	Logger          log.Logger
}

// NewConfig returns a Config with the distilled spec's documented defaults.
func NewConfig() *Config {
	return &Config{
		Os:             OsWindows,
		Architecture:   ArchX86,
		Paths:          PathMapping{},
		ExecutionLimit: defaultExecutionLimit,
		MessageBoxMode: MessageBoxDialog,
	}
}

func (c *Config) logger() *log.Helper {
	if c.Logger == nil {
		l := log.NewStdLogger(os.Stdout)
		return log.NewHelper(log.NewFilter(l, log.FilterLevel(log.LevelError)))
	}
	return log.NewHelper(c.Logger)
}

// settingsFile is the on-disk YAML shape loaded by LoadConfig/
// LoadDefaultConfig.
type settingsFile struct {
	Os             string            `yaml:"os"`
	Architecture   string            `yaml:"architecture"`
	Paths          map[string]string `yaml:"paths"`
	ExecutionLimit uint64            `yaml:"execution_limit"`
	FontPath       string            `yaml:"font_path"`
	MessageBoxMode string            `yaml:"message_box_mode"`
	Sandbox        *struct {
		NetworkEnabled      bool   `yaml:"network_enabled"`
		NetworkFallbackHost string `yaml:"network_fallback_host"`
	} `yaml:"sandbox"`
	Registry string `yaml:"registry"`
}

// LoadConfig reads a YAML settings file and applies it onto NewConfig().
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IoError{Reason: err.Error()}
	}
	var settings settingsFile
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, &InvalidConfig{Reason: err.Error()}
	}
	return applySettings(NewConfig(), &settings)
}

// LoadDefaultConfig returns the distilled default configuration; it never
// fails, matching VmConfig::from_default_settings' no-settings-file path.
func LoadDefaultConfig() (*Config, error) {
	return NewConfig(), nil
}

func applySettings(c *Config, s *settingsFile) (*Config, error) {
	switch strings.ToLower(s.Os) {
	case "unix":
		c.Os = OsUnix
	case "mac":
		c.Os = OsMac
	case "windows", "":
		c.Os = OsWindows
	default:
		return nil, &InvalidConfig{Reason: "unknown os: " + s.Os}
	}

	switch strings.ToLower(s.Architecture) {
	case "x86_64", "x64":
		c.Architecture = ArchX86_64
	case "x86", "":
		c.Architecture = ArchX86
	default:
		return nil, &InvalidConfig{Reason: "unknown architecture: " + s.Architecture}
	}

	if s.Paths != nil {
		paths := PathMapping{}
		for k, v := range s.Paths {
			paths[k] = v
		}
		c.Paths = paths
	}

	if s.ExecutionLimit != 0 {
		c.ExecutionLimit = s.ExecutionLimit
	}
	if s.FontPath != "" {
		c.FontPath = s.FontPath
	}

	switch strings.ToLower(s.MessageBoxMode) {
	case "stdout":
		c.MessageBoxMode = MessageBoxStdout
	case "silent":
		c.MessageBoxMode = MessageBoxSilent
	case "dialog", "":
	default:
		return nil, &InvalidConfig{Reason: "unknown message_box_mode: " + s.MessageBoxMode}
	}

	if s.Sandbox != nil {
		sb := NewSandboxConfig()
		if s.Sandbox.NetworkEnabled {
			sb.EnableNetwork(s.Sandbox.NetworkFallbackHost)
		}
		c.Sandbox = sb
	}

	if s.Registry != "" {
		reg, err := registry.LoadFile(s.Registry)
		if err != nil {
			return nil, &InvalidConfig{Reason: err.Error()}
		}
		c.Properties = reg
	}

	return c, nil
}

// MapPath resolves a guest path to a host path by longest-prefix match over
// Config.Paths, case-folding the guest side and treating a drive-letter
// prefix as equivalent regardless of trailing separator.
func (c *Config) MapPath(guestPath string) string {
	normalized := strings.ToLower(strings.ReplaceAll(guestPath, "/", "\\"))

	var bestPrefix, bestHost string
	for guestPrefix, hostPrefix := range c.Paths {
		p := strings.ToLower(strings.TrimRight(strings.ReplaceAll(guestPrefix, "/", "\\"), "\\"))
		if p == "" {
			continue
		}
		if normalized == p || strings.HasPrefix(normalized, p+"\\") {
			if len(p) > len(bestPrefix) {
				bestPrefix = p
				bestHost = hostPrefix
			}
		}
	}

	if bestPrefix == "" {
		return guestPath
	}

	rest := normalized[len(bestPrefix):]
	rest = strings.TrimPrefix(rest, "\\")
	if rest == "" {
		return bestHost
	}
	return strings.TrimRight(bestHost, "/\\") + "/" + strings.ReplaceAll(rest, "\\", "/")
}
