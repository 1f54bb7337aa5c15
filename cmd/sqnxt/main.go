// sqnxt: build a SqueezeNext IBN-b network and classify random 32x32
// inputs, optionally with the classifier evaluated under CKKS encryption.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"net"
	"os"
	"os/signal"
	"time"

	"sqnxt/core/ckkswrapper"
	"sqnxt/models"
	"sqnxt/nn"
	"sqnxt/nn/bench"
	"sqnxt/split"
	"sqnxt/tensor"
	"sqnxt/utils"
)

var (
	preset    = flag.String("preset", "sqnxt_23_1x_ibn_b", "Preset name; leave unset to build a custom network from -width and -blocks")
	blocks    = flag.String("blocks", "", "Per-stage block counts, e.g. \"6 6 8 1\"")
	width     = flag.Float64("width", 0, "Width multiplier for a custom network")
	classes   = flag.Int("classes", models.DefaultNumClasses, "Number of classes")
	batch     = flag.Int("batch", 2, "Number of random inputs")
	size      = flag.Int("size", 32, "Input height and width")
	seed      = flag.Uint64("seed", models.DefaultSeed, "Seed for weights and inputs")
	encrypted = flag.Bool("encrypted", false, "Evaluate the classifier on encrypted features")
	logN      = flag.Int("logN", ckkswrapper.DefaultLogN, "Ring dimension log2")
	verbose   = flag.Bool("verbose", false, "Verbose output")
	summary   = flag.Bool("summary", false, "Print the layer summary")
	profile   = flag.Int("profile", 0, "Time each layer over this many runs")
)

func main() {
	flag.Parse()
	utils.Verbose = *verbose
	utils.Output = os.Stderr

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	cfg, err := config(set)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// config builds the run configuration from the flag values; set holds the
// names of flags given on the command line.
func config(set map[string]bool) (*utils.Config, error) {
	cfg := &utils.Config{
		Preset:    *preset,
		Classes:   *classes,
		Batch:     *batch,
		Size:      *size,
		Seed:      *seed,
		Encrypted: *encrypted,
		LogN:      *logN,
	}
	custom := set["width"] || set["blocks"]
	if custom && !set["preset"] {
		cfg.Preset = ""
		cfg.Width = 1.0
		if *width != 0 {
			cfg.Width = *width
		}
		cfg.Blocks = []int{6, 6, 8, 1}
	} else if custom {
		cfg.Width = *width
	}
	if custom && *blocks != "" {
		b, err := utils.ParseBlocks(*blocks)
		if err != nil {
			return nil, err
		}
		cfg.Blocks = b
	}
	return cfg, utils.ValidateConfig(cfg)
}

func build(cfg *utils.Config) (*models.SqueezeNext, error) {
	if cfg.Preset != "" {
		spec, err := models.Preset(cfg.Preset)
		if err != nil {
			return nil, err
		}
		return spec.Build(cfg.Classes, cfg.Seed)
	}
	return models.NewSqueezeNext(cfg.Width, cfg.Blocks, cfg.Classes, cfg.Seed)
}

func run(cfg *utils.Config) error {
	var stats utils.TimingStats
	begin := time.Now()
	start := begin

	model, err := build(cfg)
	if err != nil {
		return err
	}
	model.SetTraining(false)
	start = utils.Since(&stats.ModelInitTime, start)
	log("Model ready: %d blocks, %d parameters", len(model.AllBlocks()), model.NumParams())
	if *summary {
		fmt.Print(model.Summary())
	}

	x := tensor.New(cfg.Batch, 3, cfg.Size, cfg.Size)
	nn.NewInitializer(cfg.Seed+1).Normal(x, 1)

	start = time.Now()
	feats, err := model.Features(x)
	if err != nil {
		return err
	}
	start = utils.Since(&stats.TrunkTime, start)
	logits, err := model.Classifier().ForwardPlaintext(feats)
	if err != nil {
		return err
	}
	utils.Since(&stats.ClassifierTime, start)

	if cfg.Encrypted {
		encLogits, err := classifyEncrypted(cfg, model, x, &stats)
		if err != nil {
			return err
		}
		maxDiff := 0.0
		for i := range logits.Data {
			maxDiff = math.Max(maxDiff, math.Abs(logits.Data[i]-encLogits.Data[i]))
		}
		fmt.Printf("max |plaintext - encrypted| logit difference: %.3g\n", maxDiff)
		logits = encLogits
	}

	probs, err := nn.Softmax(logits)
	if err != nil {
		return err
	}
	for n := 0; n < cfg.Batch; n++ {
		row := logits.Data[n*cfg.Classes : (n+1)*cfg.Classes]
		best := argmax(row)
		fmt.Printf("sample %d: class %d (p=%.3f)  logits %s\n", n, best, probs.Data[n*cfg.Classes+best], formatRow(row))
	}

	if *profile > 0 {
		mods := append(append([]nn.Module{}, model.Trunk().Modules()...), model.Classifier())
		pts, err := bench.TimeLayers(mods, x, *profile)
		if err != nil {
			return err
		}
		bench.WriteTable(os.Stdout, fmt.Sprintf("%d blocks, batch %d", len(model.AllBlocks()), cfg.Batch), pts)
	}

	stats.TotalTime = time.Since(begin)
	utils.PrintTimingStats(&stats, cfg.Batch)
	return nil
}

func classifyEncrypted(cfg *utils.Config, model *models.SqueezeNext, x *tensor.Tensor, stats *utils.TimingStats) (*tensor.Tensor, error) {
	start := time.Now()
	he, err := ckkswrapper.NewHeContextFromLiteral(ckkswrapper.Literal(cfg.LogN))
	if err != nil {
		return nil, err
	}
	clientConn, serverConn := net.Pipe()
	client, err := split.NewClient(clientConn, model, he)
	if err != nil {
		return nil, err
	}
	server, err := split.NewServer(serverConn, model.Classifier(), client.ServerKit())
	if err != nil {
		return nil, err
	}
	server.Logf = func(format string, args ...interface{}) {
		if *verbose {
			fmt.Fprintf(os.Stderr, "[SERVER] "+format+"\n", args...)
		}
	}
	utils.Since(&stats.HEInitTime, start)
	log("HE context ready (logN=%d, slots=%d)", cfg.LogN, he.Params.MaxSlots())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()

	logits, err := client.Classify(x)
	if cerr := client.Close(); err == nil {
		err = cerr
	}
	if serr := <-served; err == nil {
		err = serr
	}
	if err != nil {
		return nil, err
	}
	stats.EncryptionTime += client.Stats.EncryptionTime
	stats.ServerLinearTime += client.Stats.ServerLinearTime
	stats.DecryptionTime += client.Stats.DecryptionTime
	n, evalTime := server.Stats()
	log("Server evaluated %d samples in %v", n, evalTime)
	return logits, nil
}

func argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func formatRow(v []float64) string {
	s := "["
	for i, x := range v {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%.4f", x)
	}
	return s + "]"
}

func log(format string, args ...interface{}) {
	if *verbose {
		fmt.Fprintf(os.Stderr, "[SQNXT] "+format+"\n", args...)
	}
}
