package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigFile is the YAML configuration; every field mirrors a command-line
// flag, and flags given explicitly win.
type ConfigFile struct {
	Input      string `yaml:"input"`
	Output     string `yaml:"output"`
	Dump       bool   `yaml:"dump"`
	MaxQueries int    `yaml:"max_queries"`
	Stats      bool   `yaml:"stats"`
}

func LoadConfig(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg ConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
