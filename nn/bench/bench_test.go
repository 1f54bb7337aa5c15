package bench

import (
	"bytes"
	"strings"
	"testing"

	"sqnxt/nn"
	"sqnxt/nn/layers"
	"sqnxt/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeLayers(t *testing.T) {
	conv := layers.NewConv2D(3, 4, 3, 3, 2, 1, 1)
	mods := []nn.Module{conv, layers.NewBatchNorm2D(4), layers.NewReLU(), layers.NewAvgPool2D(4), layers.NewFlatten()}
	x := tensor.New(2, 3, 8, 8)
	nn.NewInitializer(1).Normal(x, 1)
	nn.NewInitializer(2).Normal(conv.W, 0.1)

	pts, err := TimeLayers(mods, x, 2)
	require.NoError(t, err)
	require.Len(t, pts, 5)
	assert.Equal(t, []int{2, 4, 4, 4}, pts[0].OutShape)
	assert.Equal(t, []int{2, 4}, pts[4].OutShape)
	assert.Equal(t, "Conv2D_3_4_3x3_s2", pts[0].Layer)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, pts))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[1], "Conv2D_3_4_3x3_s2,2x4x4x4,"))

	buf.Reset()
	WriteTable(&buf, "toy", pts)
	assert.Contains(t, buf.String(), "Microbenchmark Table for toy")
}

func TestTimeLayersReportsFailingLayer(t *testing.T) {
	mods := []nn.Module{layers.NewConv2D(1, 1, 1, 1, 1, 0, 0)}
	_, err := TimeLayers(mods, tensor.New(1, 2, 4, 4), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "layer 0")
}
