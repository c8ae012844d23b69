// Package config loads the demo harness's YAML configuration: the
// codec-preference booleans and local-encoder-support flag the
// capability negotiator takes as constructor input, plus the synthetic
// capture source's parameters. None of this is read by the core itself;
// the core only ever receives these as constructor arguments.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the demo harness's top-level configuration document.
type Config struct {
	// Listen is the address the diagnostics websocket listens on.
	Listen string `yaml:"listen"`

	// Codec holds the codec preference "wants" booleans consulted during
	// capability negotiation, read once at session construction.
	Codec CodecConfig `yaml:"codec"`

	// Capture holds the synthetic capture source's parameters.
	Capture CaptureConfig `yaml:"capture"`
}

// CodecConfig mirrors caps.Wants; kept separate so this package never
// imports the core's caps package for just a config file shape.
type CodecConfig struct {
	WantsAVC444v2                bool `yaml:"wantsAvc444v2"`
	WantsAVC444                  bool `yaml:"wantsAvc444"`
	LocalAVC444EncodingAvailable bool `yaml:"localAvc444EncodingAvailable"`
}

// CaptureConfig parameterizes the demo's synthetic frame generator.
type CaptureConfig struct {
	Width           int `yaml:"width"`
	Height          int `yaml:"height"`
	FPS             int `yaml:"fps"`
	KeyFrameEveryN  int `yaml:"keyFrameEveryN"`
}

// Default returns sensible defaults for running the demo without a
// config file.
func Default() *Config {
	return &Config{
		Listen: ":8089",
		Codec: CodecConfig{
			WantsAVC444v2:                false,
			WantsAVC444:                  false,
			LocalAVC444EncodingAvailable: false,
		},
		Capture: CaptureConfig{
			Width:          1920,
			Height:         1080,
			FPS:            60,
			KeyFrameEveryN: 120,
		},
	}
}

// Load reads and parses a YAML config file at path, filling in defaults
// for anything the file omits.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return cfg, nil
}
