package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// Config holds a model/inference run configuration
type Config struct {
	Preset    string
	Width     float64
	Blocks    []int
	Classes   int
	Batch     int
	Size      int
	Seed      uint64
	Encrypted bool
	LogN      int
}

// ParseBlocks parses "6 6 8 1" or "6,6,8,1" into a slice of block counts
func ParseBlocks(s string) ([]int, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	blocks := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("block count %q: %w", p, err)
		}
		blocks[i] = n
	}
	return blocks, nil
}

// ValidateConfig validates a run configuration. A preset and explicit
// width/blocks are mutually exclusive.
func ValidateConfig(config *Config) error {
	if config.Preset == "" {
		if config.Width <= 0 {
			return fmt.Errorf("width must be positive")
		}
		if len(config.Blocks) != 4 {
			return fmt.Errorf("blocks must list 4 stage counts, got %d", len(config.Blocks))
		}
		for i, b := range config.Blocks {
			if b < 1 {
				return fmt.Errorf("stage %d must have at least one block", i+1)
			}
		}
	} else if len(config.Blocks) > 0 || config.Width != 0 {
		return fmt.Errorf("preset %q cannot be combined with -width or -blocks", config.Preset)
	}

	if config.Classes <= 0 {
		return fmt.Errorf("classes must be positive")
	}
	if config.Batch <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if config.Size != 32 {
		return fmt.Errorf("image size must be 32 (four stride reductions and a 4x4 pool), got %d", config.Size)
	}
	if config.Encrypted && (config.LogN < 12 || config.LogN > 16) {
		return fmt.Errorf("logN must be in [12, 16], got %d", config.LogN)
	}
	return nil
}
