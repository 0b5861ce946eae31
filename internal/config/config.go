package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"keypad-service/internal/hardware"
)

// Config is the deployment configuration: where Redis lives and how the
// panel is wired. The secret sequence is deliberately absent; it is fixed
// at build time.
type Config struct {
	Redis    RedisConfig    `yaml:"redis"`
	Hardware HardwareConfig `yaml:"hardware"`
}

// RedisConfig contains the diagnostic channel connection settings.
type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// HardwareConfig contains the input device path and output pin wiring.
type HardwareConfig struct {
	InputDevice string               `yaml:"input_device"`
	Outputs     map[string]OutputPin `yaml:"outputs"`
}

// OutputPin addresses one GPIO output line.
type OutputPin struct {
	Chip int `yaml:"chip"`
	Line int `yaml:"line"`
}

// Default returns the compiled-in configuration matching the reference
// installation wiring.
func Default() *Config {
	outputs := make(map[string]OutputPin, len(hardware.DoMappings))
	for name, pin := range hardware.DoMappings {
		outputs[name] = OutputPin{Chip: pin.Chip, Line: pin.Line}
	}
	return &Config{
		Redis: RedisConfig{
			Host: "127.0.0.1",
			Port: 6379,
		},
		Hardware: HardwareConfig{
			InputDevice: hardware.GpioKeysInput,
			Outputs:     outputs,
		},
	}
}

// Load reads a YAML file over the defaults. Fields absent from the file
// keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		return fmt.Errorf("redis port out of range: %d", c.Redis.Port)
	}
	if c.Hardware.InputDevice == "" {
		return fmt.Errorf("hardware input_device must not be empty")
	}

	required := append([]string{}, hardware.LedChannels[:]...)
	required = append(required, hardware.LockRelay)
	for _, name := range required {
		pin, ok := c.Hardware.Outputs[name]
		if !ok {
			return fmt.Errorf("missing output mapping for %s", name)
		}
		if pin.Chip < 0 || pin.Line < 0 {
			return fmt.Errorf("output %s has negative chip or line", name)
		}
	}
	return nil
}

// OutputPins converts the wiring table to the hardware layer's pin type.
func (c *Config) OutputPins() map[string]hardware.Pin {
	pins := make(map[string]hardware.Pin, len(c.Hardware.Outputs))
	for name, pin := range c.Hardware.Outputs {
		pins[name] = hardware.Pin{Chip: pin.Chip, Line: pin.Line}
	}
	return pins
}
