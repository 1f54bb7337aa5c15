package main

import (
	"testing"

	"sqnxt/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgmaxAndFormat(t *testing.T) {
	assert.Equal(t, 2, argmax([]float64{0.1, -3, 5, 4.9}))
	assert.Equal(t, 0, argmax([]float64{1, 1}))
	assert.Equal(t, "[1.0000 -0.5000]", formatRow([]float64{1, -0.5}))
}

func TestBuildCustomAndPreset(t *testing.T) {
	m, err := build(&utils.Config{Width: 0.25, Blocks: []int{1, 1, 1, 1}, Classes: 5, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, m.Classifier().OutDim())

	m, err = build(&utils.Config{Preset: "sqnxt_23_1x_v5_ibn_b", Classes: 10, Seed: 1})
	require.NoError(t, err)
	assert.Len(t, m.AllBlocks(), 21)

	_, err = build(&utils.Config{Preset: "nope", Classes: 10})
	assert.Error(t, err)
}

func TestDefaultFlagsValidate(t *testing.T) {
	cfg, err := config(nil)
	require.NoError(t, err)
	assert.Equal(t, "sqnxt_23_1x_ibn_b", cfg.Preset)
	assert.Equal(t, 32, cfg.Size)
}

// withFlags sets the flag globals for one test and restores them after.
func withFlags(t *testing.T, p, b string, w float64) map[string]bool {
	t.Helper()
	oldP, oldB, oldW := *preset, *blocks, *width
	t.Cleanup(func() { *preset, *blocks, *width = oldP, oldB, oldW })
	*preset, *blocks, *width = p, b, w
	set := map[string]bool{"blocks": b != "", "width": w != 0}
	if p != oldP {
		set["preset"] = true
	}
	return set
}

func TestConfigCustomNetwork(t *testing.T) {
	cfg, err := config(withFlags(t, "sqnxt_23_1x_ibn_b", "1,2,3,4", 0.5))
	require.NoError(t, err)
	assert.Empty(t, cfg.Preset)
	assert.Equal(t, 0.5, cfg.Width)
	assert.Equal(t, []int{1, 2, 3, 4}, cfg.Blocks)

	cfg, err = config(withFlags(t, "sqnxt_23_1x_ibn_b", "", 2))
	require.NoError(t, err)
	assert.Equal(t, []int{6, 6, 8, 1}, cfg.Blocks)

	_, err = config(withFlags(t, "sqnxt_23_1x_ibn_b", "six six", 0))
	assert.Error(t, err)
}

func TestConfigPresetWithBlocks(t *testing.T) {
	_, err := config(withFlags(t, "sqnxt_23_2x_ibn_b", "six six", 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "six")

	_, err = config(withFlags(t, "sqnxt_23_2x_ibn_b", "6 6 8 1", 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be combined")

	_, err = config(withFlags(t, "sqnxt_23_2x_ibn_b", "", 1.5))
	assert.Error(t, err)
}
