// Package config provides configuration management for bang using Viper for
// loading from files, environment variables, and command-line flags.
//
// The option names mirror the runtime options a page author may overlay with
// Configure: htmlFile, scriptFile, styleFile, stateAttributeName,
// componentsPath, allowUnset, unsetPlaceholder, delayFirstPaintUntilLoaded
// and noHandlerPassthrough. Environment overrides use the BANG_ prefix
// (BANG_COMPONENTSPATH, BANG_SERVER_PORT, ...).
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultEvents are the handler attributes rewritten to call instance methods.
var DefaultEvents = eventAttrs(`error load click pointerdown pointerup pointermove mousedown mouseup
	mousemove touchstart touchend touchmove touchcancel dblclick dragstart dragend
	dragmove drag mouseover mouseout focus blur focusin focusout scroll`)

func eventAttrs(list string) []string {
	fields := strings.Fields(list)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, "on"+f)
	}
	return out
}

type Config struct {
	HTMLFile                   string       `mapstructure:"htmlFile"`
	ScriptFile                 string       `mapstructure:"scriptFile"`
	StyleFile                  string       `mapstructure:"styleFile"`
	StateAttributeName         string       `mapstructure:"stateAttributeName"`
	OwnKeyName                 string       `mapstructure:"ownKeyName"`
	ComponentsPath             string       `mapstructure:"componentsPath"`
	AllowUnset                 bool         `mapstructure:"allowUnset"`
	UnsetPlaceholder           string       `mapstructure:"unsetPlaceholder"`
	DelayFirstPaintUntilLoaded bool         `mapstructure:"delayFirstPaintUntilLoaded"`
	NoHandlerPassthrough       bool         `mapstructure:"noHandlerPassthrough"`
	Events                     []string     `mapstructure:"events"`
	Server                     ServerConfig `mapstructure:"server"`
	Redis                      RedisConfig  `mapstructure:"redis"`
}

type ServerConfig struct {
	Host  string `mapstructure:"host"`
	Port  int    `mapstructure:"port"`
	Pages string `mapstructure:"pages"`
}

type RedisConfig struct {
	Addr   string `mapstructure:"addr"`
	Prefix string `mapstructure:"prefix"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("htmlFile", "markup.html")
	v.SetDefault("scriptFile", "script.js")
	v.SetDefault("styleFile", "style.css")
	v.SetDefault("stateAttributeName", "state")
	v.SetDefault("ownKeyName", "_bang_key")
	v.SetDefault("componentsPath", "./components")
	v.SetDefault("allowUnset", false)
	v.SetDefault("unsetPlaceholder", "")
	v.SetDefault("delayFirstPaintUntilLoaded", true)
	v.SetDefault("noHandlerPassthrough", false)
	v.SetDefault("events", DefaultEvents)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.pages", ".")
	v.SetDefault("redis.prefix", "bang:state:")
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadFrom(v)
	if err != nil {
		// defaults are static and always valid
		panic(fmt.Sprintf("bang: invalid default configuration: %v", err))
	}
	return cfg
}

// Load reads the configuration held by the global viper instance, which the
// CLI populates from flags, BANG_ environment variables and .bang.yml.
func Load() (*Config, error) {
	SetDefaults(viper.GetViper())
	return LoadFrom(viper.GetViper())
}

// LoadFrom decodes and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// viper hands back a single string for env-provided slices
	if len(cfg.Events) == 1 && strings.ContainsAny(cfg.Events[0], " ,") {
		cfg.Events = strings.FieldsFunc(cfg.Events[0], func(r rune) bool { return r == ' ' || r == ',' })
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Merge overlays the recognized keys of overrides onto a copy of base.
// Unrecognized keys are ignored. The merge is shallow, as nested sections are
// replaced key by key rather than reconciled.
func Merge(base *Config, overrides map[string]any) (*Config, error) {
	v := viper.New()
	if err := v.MergeConfigMap(base.toMap()); err != nil {
		return nil, err
	}
	if err := v.MergeConfigMap(overrides); err != nil {
		return nil, err
	}
	return LoadFrom(v)
}

func (c *Config) toMap() map[string]any {
	events := make([]any, len(c.Events))
	for i, e := range c.Events {
		events[i] = e
	}
	return map[string]any{
		"htmlFile":                   c.HTMLFile,
		"scriptFile":                 c.ScriptFile,
		"styleFile":                  c.StyleFile,
		"stateAttributeName":         c.StateAttributeName,
		"ownKeyName":                 c.OwnKeyName,
		"componentsPath":             c.ComponentsPath,
		"allowUnset":                 c.AllowUnset,
		"unsetPlaceholder":           c.UnsetPlaceholder,
		"delayFirstPaintUntilLoaded": c.DelayFirstPaintUntilLoaded,
		"noHandlerPassthrough":       c.NoHandlerPassthrough,
		"events":                     events,
		"server": map[string]any{
			"host":  c.Server.Host,
			"port":  c.Server.Port,
			"pages": c.Server.Pages,
		},
		"redis": map[string]any{
			"addr":   c.Redis.Addr,
			"prefix": c.Redis.Prefix,
		},
	}
}

// IsEvent reports whether attr is one of the configured handler attributes.
func (c *Config) IsEvent(attr string) bool {
	for _, e := range c.Events {
		if e == attr {
			return true
		}
	}
	return false
}

// validateConfig validates configuration values
func validateConfig(config *Config) error {
	files := map[string]string{
		"htmlFile":   config.HTMLFile,
		"scriptFile": config.ScriptFile,
		"styleFile":  config.StyleFile,
	}
	for key, name := range files {
		if err := validateFileName(name); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	if config.ComponentsPath == "" {
		return fmt.Errorf("componentsPath: empty path")
	}

	if config.StateAttributeName == "" || strings.ContainsAny(config.StateAttributeName, " \t\n=\"'<>/") {
		return fmt.Errorf("stateAttributeName %q is not a valid attribute name", config.StateAttributeName)
	}

	if config.OwnKeyName == "" {
		return fmt.Errorf("ownKeyName: empty name")
	}

	for _, e := range config.Events {
		if !strings.HasPrefix(e, "on") || len(e) < 3 {
			return fmt.Errorf("events: %q is not an event handler attribute", e)
		}
	}

	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	return nil
}

// validateFileName rejects names that would escape a component folder
func validateFileName(name string) error {
	if name == "" {
		return fmt.Errorf("empty file name")
	}
	clean := filepath.ToSlash(filepath.Clean(name))
	if strings.Contains(clean, "..") || strings.HasPrefix(clean, "/") {
		return fmt.Errorf("file name %q escapes the component folder", name)
	}
	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	return nil
}
