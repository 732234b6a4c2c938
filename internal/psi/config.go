package psi

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mundrapranay/fuzzy-psi/internal/okvs"
)

// Config holds the protocol parameters both parties must agree on.
type Config struct {
	// Delta is the d∞ distance threshold.
	Delta uint64 `yaml:"delta" json:"delta"`

	// Strategy selects the OKVS construction ("banded" or "polynomial").
	Strategy string `yaml:"strategy" json:"strategy"`

	// Banded OKVS shape. Zero values select the okvs package defaults.
	Epsilon      float64 `yaml:"epsilon,omitempty" json:"epsilon,omitempty"`
	MaxBandWidth int     `yaml:"max_band_width,omitempty" json:"max_band_width,omitempty"`
	MinBandWidth int     `yaml:"min_band_width,omitempty" json:"min_band_width,omitempty"`

	// Seed is the hex-encoded salt of the row hashes (at most 64 bytes).
	Seed string `yaml:"seed,omitempty" json:"seed,omitempty"`

	// MinEncodingSize is the smallest padded pair count of any encoding.
	MinEncodingSize int `yaml:"min_encoding_size" json:"min_encoding_size"`

	// SenderPadding and ReceiverPadding multiply the real pair count of the
	// first and second encoding to get the padding target.
	SenderPadding   int `yaml:"sender_padding" json:"sender_padding"`
	ReceiverPadding int `yaml:"receiver_padding" json:"receiver_padding"`

	// PaddingNoiseLambda enables geometric slack on the padding target when
	// positive. MaxPaddingNoise caps the slack.
	PaddingNoiseLambda float64 `yaml:"padding_noise_lambda,omitempty" json:"padding_noise_lambda,omitempty"`
	MaxPaddingNoise    int     `yaml:"max_padding_noise,omitempty" json:"max_padding_noise,omitempty"`
}

// DefaultConfig returns the parameters of the reference deployment.
func DefaultConfig() Config {
	return Config{
		Delta:           2,
		Strategy:        string(okvs.StrategyBanded),
		Epsilon:         okvs.DefaultEpsilon,
		MaxBandWidth:    okvs.DefaultMaxBandWidth,
		MinBandWidth:    okvs.DefaultMinBandWidth,
		MinEncodingSize: 64,
		SenderPadding:   1,
		ReceiverPadding: 2,
		MaxPaddingNoise: 64,
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if _, err := okvs.ParseStrategy(c.Strategy); err != nil {
		return err
	}
	if c.Epsilon < 0 {
		return fmt.Errorf("epsilon must not be negative, got %v", c.Epsilon)
	}
	if c.MaxBandWidth < 0 || c.MinBandWidth < 0 {
		return fmt.Errorf("band widths must not be negative")
	}
	if c.MinBandWidth > 0 && c.MaxBandWidth > 0 && c.MinBandWidth > c.MaxBandWidth {
		return fmt.Errorf("min_band_width %d exceeds max_band_width %d", c.MinBandWidth, c.MaxBandWidth)
	}
	if c.MinEncodingSize < 1 {
		return fmt.Errorf("min_encoding_size must be at least 1, got %d", c.MinEncodingSize)
	}
	if c.SenderPadding < 1 || c.ReceiverPadding < 1 {
		return fmt.Errorf("padding factors must be at least 1, got %d and %d", c.SenderPadding, c.ReceiverPadding)
	}
	if c.PaddingNoiseLambda < 0 {
		return fmt.Errorf("padding_noise_lambda must not be negative, got %v", c.PaddingNoiseLambda)
	}
	if _, err := c.seed(); err != nil {
		return err
	}
	return nil
}

func (c *Config) seed() ([]byte, error) {
	if c.Seed == "" {
		return nil, nil
	}
	seed, err := hex.DecodeString(c.Seed)
	if err != nil {
		return nil, fmt.Errorf("seed is not valid hex: %w", err)
	}
	if len(seed) > 64 {
		return nil, fmt.Errorf("seed is %d bytes, at most 64 allowed", len(seed))
	}
	return seed, nil
}

// okvsParams translates the configuration into store parameters. rand fills
// unconstrained encoding columns.
func (c *Config) okvsParams(rand io.Reader) (okvs.Params, error) {
	seed, err := c.seed()
	if err != nil {
		return okvs.Params{}, err
	}
	return okvs.Params{
		Epsilon:      c.Epsilon,
		MaxBandWidth: c.MaxBandWidth,
		MinBandWidth: c.MinBandWidth,
		Seed:         seed,
		Rand:         rand,
	}, nil
}

// LoadConfig loads protocol configuration from a YAML file. Missing fields
// keep their DefaultConfig values.
func LoadConfig(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// SaveConfig saves protocol configuration to a YAML file.
func SaveConfig(config *Config, filePath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(filePath, data, 0644)
}
