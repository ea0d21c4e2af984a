package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"

	"github.com/rupor-github/gencfg"

	"resolveurl/rewrite"
)

//go:embed config.yaml.tmpl
var ConfigTmpl []byte

type (
	// ResolveConfig holds defaults for url rewriting, command line flags
	// override them per invocation.
	ResolveConfig struct {
		Absolute  bool   `yaml:"absolute"`
		SourceMap bool   `yaml:"source_map"`
		Fail      bool   `yaml:"fail"`
		Silent    bool   `yaml:"silent"`
		KeepQuery bool   `yaml:"keep_query"`
		Attempts  int    `yaml:"attempts" validate:"gte=0"`
		Root      string `yaml:"root,omitempty" validate:"omitempty,dir"`
		Workers   int    `yaml:"workers" validate:"gte=0"`
		Pattern   string `yaml:"pattern" validate:"required"`
	}

	Config struct {
		Version   int            `yaml:"version" validate:"eq=1"`
		Resolve   ResolveConfig  `yaml:"resolve"`
		Logging   LoggingConfig  `yaml:"logging"`
		Reporting ReporterConfig `yaml:"reporting"`
	}
)

// ToOptions converts configured defaults into transform options.
func (conf *ResolveConfig) ToOptions() rewrite.Options {
	return rewrite.Options{
		Absolute:  conf.Absolute,
		SourceMap: conf.SourceMap,
		Fail:      conf.Fail,
		Silent:    conf.Silent,
		KeepQuery: conf.KeepQuery,
		Attempts:  conf.Attempts,
		Root:      conf.Root,
	}
}

func unmarshalConfig(data []byte, cfg *Config, process bool) (*Config, error) {
	// We want to use only fields we defined so we cannot use yaml.Unmarshal
	// directly here
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	if process {
		// sanitize and validate what has been loaded
		if err := gencfg.Sanitize(cfg); err != nil {
			return nil, err
		}
		if err := gencfg.Validate(cfg); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return cfg, nil
}

// LoadConfiguration reads the configuration from the file at the given path,
// superimposes its values on top of expanded configuration template to provide
// sane defaults and performs validation.
func LoadConfiguration(path string, options ...func(*gencfg.ProcessingOptions)) (*Config, error) {
	haveFile := len(path) > 0

	data, err := gencfg.Process(ConfigTmpl, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	cfg, err := unmarshalConfig(data, &Config{}, !haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	if !haveFile {
		return cfg, nil
	}

	// overwrite cfg values with values from the file
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err = unmarshalConfig(data, cfg, haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration file: %w", err)
	}
	return cfg, nil
}

// Prepare generates configuration file from template and returns it as a byte
// slice.
func Prepare() ([]byte, error) {
	return gencfg.Process(ConfigTmpl)
}

func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %v", err)
	}
	return data, nil
}
