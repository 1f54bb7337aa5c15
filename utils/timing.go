package utils

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Verbose controls whether timing statistics are printed.
// Set to false to suppress output.
var Verbose = true

// Output is the writer where timing statistics are printed.
// Defaults to os.Stdout.
var Output io.Writer = os.Stdout

// TimingStats holds timing information for the stages of one run
type TimingStats struct {
	TotalTime        time.Duration
	ModelInitTime    time.Duration
	HEInitTime       time.Duration
	TrunkTime        time.Duration
	EncryptionTime   time.Duration
	ServerLinearTime time.Duration
	DecryptionTime   time.Duration
	ClassifierTime   time.Duration
}

func pct(part, whole time.Duration) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// PrintTimingStats prints detailed timing statistics for a run over
// samples inputs. Respects the Verbose flag.
func PrintTimingStats(stats *TimingStats, samples int) {
	if !Verbose {
		return
	}
	if samples < 1 {
		samples = 1
	}
	fmt.Fprintln(Output, "\n=== TIMING STATISTICS ===")
	fmt.Fprintf(Output, "Total time: %v\n", stats.TotalTime)
	fmt.Fprintf(Output, "Samples: %d\n", samples)
	fmt.Fprintln(Output, "\nBreakdown by operation:")
	fmt.Fprintf(Output, "  Model initialization: %v (%.1f%%)\n", stats.ModelInitTime, pct(stats.ModelInitTime, stats.TotalTime))
	fmt.Fprintf(Output, "  HE initialization: %v (%.1f%%)\n", stats.HEInitTime, pct(stats.HEInitTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Trunk forward: %v (%.1f%%)\n", stats.TrunkTime, pct(stats.TrunkTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Classifier (plaintext): %v (%.1f%%)\n", stats.ClassifierTime, pct(stats.ClassifierTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Encryption: %v (%.1f%%)\n", stats.EncryptionTime, pct(stats.EncryptionTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Server Linear: %v (%.1f%%)\n", stats.ServerLinearTime, pct(stats.ServerLinearTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Decryption: %v (%.1f%%)\n", stats.DecryptionTime, pct(stats.DecryptionTime, stats.TotalTime))
	fmt.Fprintln(Output, "\nPer sample:")
	fmt.Fprintf(Output, "  Trunk forward: %v\n", stats.TrunkTime/time.Duration(samples))
	fmt.Fprintf(Output, "  Encryption: %v\n", stats.EncryptionTime/time.Duration(samples))
	fmt.Fprintf(Output, "  Server Linear: %v\n", stats.ServerLinearTime/time.Duration(samples))
	fmt.Fprintf(Output, "  Decryption: %v\n", stats.DecryptionTime/time.Duration(samples))
}

// Since adds the time elapsed from start to *d and returns now.
func Since(d *time.Duration, start time.Time) time.Time {
	now := time.Now()
	*d += now.Sub(start)
	return now
}

// DurationUS converts any time.Duration to micro-seconds as float64
func DurationUS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000.0
}
