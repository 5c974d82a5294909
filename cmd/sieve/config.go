package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bi0dread/sieve"
)

// Config is the YAML description of a field set and its mappings.
type Config struct {
	Name    string            `yaml:"name"`
	Table   string            `yaml:"table"`
	Columns []string          `yaml:"columns"`
	Naming  string            `yaml:"naming"`
	Limits  sieve.Limits      `yaml:"limits"`
	Aliases map[string]string `yaml:"aliases"`
	Fields  []FieldConfig     `yaml:"fields"`
}

// FieldConfig describes one field. Only the options of its type are read.
type FieldConfig struct {
	Name            string            `yaml:"name"`
	Type            string            `yaml:"type"`
	Required        bool              `yaml:"required"`
	Min             *int64            `yaml:"min"`
	Max             *int64            `yaml:"max"`
	Layout          string            `yaml:"layout"`
	CaseInsensitive bool              `yaml:"case_insensitive"`
	Choices         map[string]string `yaml:"choices"`
	Mappings        []MappingConfig   `yaml:"mappings"`
}

// MappingConfig is one locator of a field. A named mapping is a secondary
// mapping, several of them are ORed.
type MappingConfig struct {
	Name        string `yaml:"name"`
	Locator     string `yaml:"locator"`
	Alias       string `yaml:"alias"`
	StorageType string `yaml:"storage_type"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(cfg.Fields) == 0 {
		return nil, fmt.Errorf("config %s has no fields", path)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Table
	}
	return &cfg, nil
}

// FieldSet builds the field set described by the config.
func (c *Config) FieldSet() (*sieve.FieldSet, error) {
	fs := sieve.NewFieldSet(c.Name)
	for _, f := range c.Fields {
		typ, err := f.fieldType()
		if err != nil {
			return nil, err
		}
		var opts []sieve.FieldOption
		if f.Required {
			opts = append(opts, sieve.Required())
		}
		fs.Add(f.Name, typ, opts...)
	}
	return fs, nil
}

func (f FieldConfig) fieldType() (sieve.FieldType, error) {
	switch f.Type {
	case "integer", "int":
		return sieve.IntegerType{Min: f.Min, Max: f.Max}, nil
	case "decimal", "float":
		return sieve.DecimalType{}, nil
	case "", "text", "string":
		return sieve.TextType{CaseInsensitive: f.CaseInsensitive}, nil
	case "date":
		return sieve.DateType{Layout: f.Layout}, nil
	case "uuid":
		return sieve.UUIDType{}, nil
	case "version":
		return sieve.VersionType{}, nil
	case "choice":
		if len(f.Choices) == 0 {
			return nil, fmt.Errorf("field %q: choice type needs choices", f.Name)
		}
		var t sieve.ChoiceType
		for label, value := range f.Choices {
			t.Choices = append(t.Choices, sieve.Choice{Label: label, Value: value})
		}
		return t, nil
	}
	return nil, fmt.Errorf("field %q: unknown type %q", f.Name, f.Type)
}

// Apply maps every configured field. Fields without mappings use the naming
// strategy.
func (c *Config) Apply(fc *sieve.FieldConfig) error {
	if c.Naming != "" {
		fc.SetNamingStrategy(sieve.NamingStrategy(c.Naming))
	}
	for _, f := range c.Fields {
		for _, m := range f.Mappings {
			field := f.Name
			if m.Name != "" {
				field += "#" + m.Name
			}
			var opts []sieve.MappingOption
			if m.Alias != "" {
				opts = append(opts, sieve.WithAlias(m.Alias))
			}
			if m.StorageType != "" {
				opts = append(opts, sieve.WithStorageType(m.StorageType))
			}
			if err := fc.SetField(field, m.Locator, opts...); err != nil {
				return err
			}
		}
	}
	return fc.MapAll()
}

func (c *Config) processorConfig() sieve.ProcessorConfig {
	return sieve.ProcessorConfig{Limits: c.Limits, Aliases: c.Aliases}
}
