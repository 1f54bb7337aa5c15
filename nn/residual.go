package nn

import (
	"fmt"
	"strings"

	"sqnxt/nn/layers"
	"sqnxt/tensor"
)

// ResidualBlock computes Post(Main(x) + Shortcut(x)). A nil Shortcut is the
// identity. Post runs on the sum, so normalization placed there sees the
// pre-activation merge.
type ResidualBlock struct {
	Main     []Module
	Shortcut []Module
	Post     []Module
}

func NewResidualBlock(main, shortcut, post []Module) *ResidualBlock {
	return &ResidualBlock{Main: main, Shortcut: shortcut, Post: post}
}

func forwardChain(mods []Module, x interface{}) (interface{}, error) {
	var err error
	for _, m := range mods {
		if x, err = m.Forward(x); err != nil {
			return nil, fmt.Errorf("%s: %w", m.Tag(), err)
		}
	}
	return x, nil
}

func backwardChain(mods []Module, g interface{}) (interface{}, error) {
	var err error
	for i := len(mods) - 1; i >= 0; i-- {
		if g, err = mods[i].Backward(g); err != nil {
			return nil, fmt.Errorf("%s: %w", mods[i].Tag(), err)
		}
	}
	return g, nil
}

func (r *ResidualBlock) Forward(x interface{}) (interface{}, error) {
	main, err := forwardChain(r.Main, x)
	if err != nil {
		return nil, err
	}
	skip, err := forwardChain(r.Shortcut, x)
	if err != nil {
		return nil, err
	}
	a, ok1 := main.(*tensor.Tensor)
	b, ok2 := skip.(*tensor.Tensor)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("ResidualBlock: unsupported branch types %T, %T", main, skip)
	}
	sum, err := tensor.Add(a, b)
	if err != nil {
		return nil, fmt.Errorf("ResidualBlock: merge: %w", err)
	}
	return forwardChain(r.Post, sum)
}

// Backward returns the gradient accumulated from both paths.
func (r *ResidualBlock) Backward(g interface{}) (interface{}, error) {
	gSum, err := backwardChain(r.Post, g)
	if err != nil {
		return nil, err
	}
	gMain, err := backwardChain(r.Main, gSum)
	if err != nil {
		return nil, err
	}
	gSkip, err := backwardChain(r.Shortcut, gSum)
	if err != nil {
		return nil, err
	}
	a, ok1 := gMain.(*tensor.Tensor)
	b, ok2 := gSkip.(*tensor.Tensor)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("ResidualBlock: unsupported gradient types %T, %T", gMain, gSkip)
	}
	return tensor.Add(a, b)
}

func (r *ResidualBlock) Modules() []Module {
	mods := make([]Module, 0, len(r.Main)+len(r.Shortcut)+len(r.Post))
	mods = append(mods, r.Main...)
	mods = append(mods, r.Shortcut...)
	return append(mods, r.Post...)
}

// Params names parameters main.i.*, shortcut.i.* and post.i.*.
func (r *ResidualBlock) Params() []layers.Param {
	var ps []layers.Param
	for _, part := range []struct {
		name string
		mods []Module
	}{{"main", r.Main}, {"shortcut", r.Shortcut}, {"post", r.Post}} {
		for i, m := range part.mods {
			ps = append(ps, PrefixParams(fmt.Sprintf("%s.%d", part.name, i), CollectParams(m))...)
		}
	}
	return ps
}

func (r *ResidualBlock) Update(lr float64) error {
	for _, m := range r.Modules() {
		if err := m.Update(lr); err != nil {
			return err
		}
	}
	return nil
}

func (r *ResidualBlock) Encrypted() bool { return false }

// Levels is the depth of the deeper branch plus Post.
func (r *ResidualBlock) Levels() int {
	main, skip, post := 0, 0, 0
	for _, m := range r.Main {
		main += m.Levels()
	}
	for _, m := range r.Shortcut {
		skip += m.Levels()
	}
	for _, m := range r.Post {
		post += m.Levels()
	}
	if skip > main {
		main = skip
	}
	return main + post
}

func (r *ResidualBlock) Tag() string {
	tags := func(mods []Module) string {
		s := make([]string, len(mods))
		for i, m := range mods {
			s[i] = m.Tag()
		}
		return strings.Join(s, ",")
	}
	short := "identity"
	if len(r.Shortcut) > 0 {
		short = tags(r.Shortcut)
	}
	return "ResidualBlock[" + tags(r.Main) + "|" + short + "|" + tags(r.Post) + "]"
}
