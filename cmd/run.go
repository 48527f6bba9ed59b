package main

import (
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"math/rand"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/bennebotix/eidosfit/internal/fit"
	"github.com/spf13/cobra"
)

var (
	refPath      string
	outPath      string
	exportPath   string
	maxShapes    int
	fidelityMode int
	batchSize    int
	seed         int64
	cpuProfile   string
	memProfile   string
)

var runCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit a reference image with greedy ellipses",
	Long:  `Greedily adds semi-transparent rotated ellipses to approximate a reference image, writing the composite raster and (optionally) a Desmos document.`,
	RunE:  runFit,
}

func init() {
	runCmd.Flags().StringVar(&refPath, "ref", "", "Reference image path (required)")
	runCmd.Flags().StringVar(&outPath, "out", "out.png", "Output image path")
	runCmd.Flags().StringVar(&exportPath, "export", "", "Write a Desmos document to this path (optional)")
	runCmd.Flags().IntVar(&maxShapes, "circles", 200, "Maximum number of ellipses to commit")
	runCmd.Flags().IntVar(&fidelityMode, "fidelity", 1, "Candidate search fidelity, 0 (fastest) to 3 (most thorough)")
	runCmd.Flags().IntVar(&batchSize, "batch", 10, "Shapes committed per progress log line")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Random seed")

	// Profiling flags
	runCmd.Flags().StringVar(&cpuProfile, "cpuprofile", "", "Write CPU profile to file")
	runCmd.Flags().StringVar(&memProfile, "memprofile", "", "Write memory profile to file")

	runCmd.MarkFlagRequired("ref")
	rootCmd.AddCommand(runCmd)
}

func runFit(cmd *cobra.Command, args []string) error {
	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			return fmt.Errorf("failed to create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
		slog.Info("CPU profiling enabled", "output", cpuProfile)
	}

	fit.LogSIMDCapabilities()

	slog.Info("Starting fit", "circles", maxShapes, "fidelity", fidelityMode, "batch", batchSize)

	f, err := os.Open(refPath)
	if err != nil {
		return fmt.Errorf("failed to open reference: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	ref := image.NewNRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			ref.Set(x, y, img.At(x, y))
		}
	}

	slog.Info("Loaded reference", "width", bounds.Dx(), "height", bounds.Dy())

	rng := rand.New(rand.NewSource(seed))
	driver := fit.NewDriver(ref, maxShapes, fidelityMode, rng)
	initialCost := fit.AuditCost(ref, driver.Composite())

	start := time.Now()
	for !driver.Done() {
		done := driver.Step(batchSize)
		slog.Info("Progress",
			"committed", driver.Committed(),
			"best_cost", driver.BestAuditCost(),
			"plateaued", driver.Plateaued(),
		)
		if done {
			break
		}
	}
	elapsed := time.Since(start)

	finalCost := fit.AuditCost(ref, driver.Composite())

	outFile, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer outFile.Close()

	if err := png.Encode(outFile, driver.Composite()); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	sps := float64(driver.Committed()) / elapsed.Seconds()

	slog.Info("Fit complete",
		"elapsed", elapsed,
		"initial_cost", initialCost,
		"final_cost", finalCost,
		"improvement", initialCost-finalCost,
		"shapes_committed", driver.Committed(),
		"shapes_per_second", fmt.Sprintf("%.0f", sps),
	)

	fmt.Printf("Wrote %s (cost: %.2f -> %.2f, %d shapes, %.0f shapes/sec)\n",
		outPath, initialCost, finalCost, driver.Committed(), sps)

	if exportPath != "" {
		doc, err := fit.BuildDocument(driver.Shapes(), bounds.Dx(), bounds.Dy(), nil)
		if err != nil {
			return fmt.Errorf("failed to build document: %w", err)
		}

		exportFile, err := os.Create(exportPath)
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		defer exportFile.Close()

		enc := json.NewEncoder(exportFile)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode document: %w", err)
		}

		fmt.Printf("Wrote %s\n", exportPath)
	}

	if memProfile != "" {
		f, err := os.Create(memProfile)
		if err != nil {
			return fmt.Errorf("failed to create memory profile: %w", err)
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
		slog.Info("Memory profile written", "output", memProfile)
	}

	return nil
}
