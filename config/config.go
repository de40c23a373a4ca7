package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Validatable is an optional interface that config structs can implement
// to validate themselves before being swapped in.
type Validatable interface {
	Validate() error
}

// Load reads the config file at path into a copy of defaults. The format
// follows the extension: .yaml and .yml are YAML, anything else is TOML. A
// missing file yields the defaults. The result is validated when T
// implements Validatable.
func Load[T any](path string, defaults *T) (*T, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return load(path, defaults, yaml.Unmarshal)
	default:
		return load(path, defaults, toml.Unmarshal)
	}
}

// LoadTOML loads a TOML config file into a struct of type T.
// If the file does not exist, it returns the provided defaults.
func LoadTOML[T any](path string, defaults *T) (*T, error) {
	return load(path, defaults, toml.Unmarshal)
}

// LoadYAML is LoadTOML for YAML files.
func LoadYAML[T any](path string, defaults *T) (*T, error) {
	return load(path, defaults, yaml.Unmarshal)
}

func load[T any](path string, defaults *T, unmarshal func([]byte, any) error) (*T, error) {
	cfg := new(T)
	if defaults != nil {
		*cfg = *defaults
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if v, ok := any(cfg).(Validatable); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("validating config %s: %w", path, err)
		}
	}
	return cfg, nil
}
