package models

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"sqnxt/nn"
)

// Summary renders one row per layer group with channel counts, stride,
// bottleneck ratio, shortcut kind, IBN flag and parameter count.
func (m *SqueezeNext) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SqueezeNext width=%g blocks=%v classes=%d\n", m.Width, m.Blocks, m.NumClasses)
	tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "layer\tin\tout\tstride\tratio\tc1/c2\tshortcut\tibn\tparams")
	fmt.Fprintf(tw, "stem\t%d\t%d\t%d\t-\t-\t-\t-\t%d\n",
		m.StemConv.InChannels(), m.StemConv.OutChannels(), 1, countParams(m.StemConv.Params(), m.StemBN.Params()))
	for s, stage := range m.Stages {
		for i, b := range stage {
			short := "identity"
			if !b.IdentityShortcut() {
				short = "conv1x1+bn"
			}
			ibn := "-"
			if b.HasInstanceNorm() {
				ibn = "yes"
			}
			fmt.Fprintf(tw, "stage%d.block%d\t%d\t%d\t%d\t%g\t%d/%d\t%s\t%s\t%d\n",
				s+1, i, b.InChannels, b.OutChannels, b.Stride, b.Ratio, b.C1, b.C2, short, ibn, countParams(b.Params()))
		}
	}
	fmt.Fprintf(tw, "head\t%d\t%d\t1\t-\t-\t-\t-\t%d\n",
		m.HeadConv.InChannels(), m.HeadConv.OutChannels(), countParams(m.HeadConv.Params(), m.HeadBN.Params()))
	fmt.Fprintf(tw, "pool\t%d\t%d\t%d\t-\t-\t-\t-\t0\n", m.HeadConv.OutChannels(), m.HeadConv.OutChannels(), m.Pool.PoolSize())
	fmt.Fprintf(tw, "classifier\t%d\t%d\t-\t-\t-\t-\t-\t%d\n", m.FC.InDim(), m.FC.OutDim(), countParams(m.FC.Params()))
	tw.Flush()
	fmt.Fprintf(&sb, "total params: %d\n", m.NumParams())
	return sb.String()
}

func countParams(groups ...[]nn.Param) int {
	n := 0
	for _, g := range groups {
		for _, p := range g {
			n += len(p.Value.Data)
		}
	}
	return n
}
