package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBlocks(t *testing.T) {
	b, err := ParseBlocks("6 6 8 1")
	require.NoError(t, err)
	assert.Equal(t, []int{6, 6, 8, 1}, b)

	b, err = ParseBlocks("2,4, 14,1")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 14, 1}, b)

	_, err = ParseBlocks("6 x 8 1")
	assert.Error(t, err)

	b, err = ParseBlocks("")
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{Width: 1, Blocks: []int{6, 6, 8, 1}, Classes: 10, Batch: 2, Size: 32, LogN: 13}
	}
	require.NoError(t, ValidateConfig(valid()))

	preset := &Config{Preset: "sqnxt_23_1x_ibn_b", Classes: 10, Batch: 1, Size: 32, Encrypted: true, LogN: 13}
	require.NoError(t, ValidateConfig(preset))

	cases := map[string]func(c *Config){
		"zero width":      func(c *Config) { c.Width = 0 },
		"three stages":    func(c *Config) { c.Blocks = []int{1, 1, 1} },
		"empty stage":     func(c *Config) { c.Blocks = []int{1, 0, 1, 1} },
		"no classes":      func(c *Config) { c.Classes = 0 },
		"no batch":        func(c *Config) { c.Batch = 0 },
		"wrong size":      func(c *Config) { c.Size = 64 },
		"bad logN":        func(c *Config) { c.Encrypted, c.LogN = true, 20 },
		"preset and size": func(c *Config) { c.Preset = "sqnxt_23_1x_ibn_b" },
	}
	for name, mutate := range cases {
		c := valid()
		mutate(c)
		assert.Error(t, ValidateConfig(c), name)
	}
}
