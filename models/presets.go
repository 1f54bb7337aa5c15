package models

import (
	"fmt"
	"sort"
)

// Spec names a preset configuration.
type Spec struct {
	Name   string
	Width  float64
	Blocks [4]int
}

// Build constructs the preset with the given class count and seed.
func (s Spec) Build(numClasses int, seed uint64) (*SqueezeNext, error) {
	m, err := NewSqueezeNext(s.Width, s.Blocks[:], numClasses, seed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Name, err)
	}
	return m, nil
}

var presets = map[string]Spec{
	"sqnxt_23_1x_ibn_b":    {Name: "sqnxt_23_1x_ibn_b", Width: 1.0, Blocks: [4]int{6, 6, 8, 1}},
	"sqnxt_23_1x_v5_ibn_b": {Name: "sqnxt_23_1x_v5_ibn_b", Width: 1.0, Blocks: [4]int{2, 4, 14, 1}},
	"sqnxt_23_2x_ibn_b":    {Name: "sqnxt_23_2x_ibn_b", Width: 2.0, Blocks: [4]int{6, 6, 8, 1}},
	"sqnxt_23_2x_v5_ibn_b": {Name: "sqnxt_23_2x_v5_ibn_b", Width: 2.0, Blocks: [4]int{2, 4, 14, 1}},
}

// Preset looks up a configuration by name.
func Preset(name string) (Spec, error) {
	s, ok := presets[name]
	if !ok {
		return Spec{}, fmt.Errorf("unknown preset %q (have %v)", name, PresetNames())
	}
	return s, nil
}

// PresetNames returns the known preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func buildPreset(name string, numClasses int) (*SqueezeNext, error) {
	return presets[name].Build(numClasses, DefaultSeed)
}

// SqNxt23x1IBNb is SqueezeNext-23, width 1.0, blocks [6 6 8 1].
func SqNxt23x1IBNb(numClasses int) (*SqueezeNext, error) {
	return buildPreset("sqnxt_23_1x_ibn_b", numClasses)
}

// SqNxt23x1V5IBNb is SqueezeNext-23v5, width 1.0, blocks [2 4 14 1].
func SqNxt23x1V5IBNb(numClasses int) (*SqueezeNext, error) {
	return buildPreset("sqnxt_23_1x_v5_ibn_b", numClasses)
}

// SqNxt23x2IBNb is SqueezeNext-23, width 2.0, blocks [6 6 8 1].
func SqNxt23x2IBNb(numClasses int) (*SqueezeNext, error) {
	return buildPreset("sqnxt_23_2x_ibn_b", numClasses)
}

// SqNxt23x2V5IBNb is SqueezeNext-23v5, width 2.0, blocks [2 4 14 1].
func SqNxt23x2V5IBNb(numClasses int) (*SqueezeNext, error) {
	return buildPreset("sqnxt_23_2x_v5_ibn_b", numClasses)
}
