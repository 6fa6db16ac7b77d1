package unarchive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the file representation of [Options]:
//
//	archiver: NSKeyedArchiver
//	max_depth: 128
//	requires_secure_coding: true
//	allowed_classes: [Widget, NSArray]
//	class_remaps:
//	  OldWidget: Widget
type Config struct {
	Archiver             string            `yaml:"archiver"`
	MaxDepth             int               `yaml:"max_depth"`
	RequiresSecureCoding bool              `yaml:"requires_secure_coding"`
	AllowedClasses       []string          `yaml:"allowed_classes"`
	ClassRemaps          map[string]string `yaml:"class_remaps"`
}

// ParseConfig reads a YAML config document. Unknown keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var config Config
	if err := decoder.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if config.MaxDepth < 0 {
		return nil, fmt.Errorf("max_depth must not be negative, got %d", config.MaxDepth)
	}

	return &config, nil
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	return ParseConfig(data)
}

// Options converts the config into session options. Remap targets are looked up in reg,
// which defaults to DefaultRegistry.
func (c *Config) Options(reg *Registry) (Options, error) {
	if reg == nil {
		reg = DefaultRegistry
	}

	opts := Options{
		Registry:             reg,
		ArchiverName:         c.Archiver,
		MaxDepth:             c.MaxDepth,
		RequiresSecureCoding: c.RequiresSecureCoding,
		AllowedClasses:       c.AllowedClasses,
	}

	if len(c.ClassRemaps) > 0 {
		opts.ClassMap = make(map[string]*Class, len(c.ClassRemaps))

		for coded, registered := range c.ClassRemaps {
			class, ok := reg.Lookup(registered)
			if !ok {
				detail := fmt.Sprintf("remap target of %q is not registered", coded)
				return Options{}, newError(ErrClassResolution, detail).withClass(registered)
			}

			opts.ClassMap[coded] = class
		}
	}

	return opts, nil
}
