package main

import (
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bennebotix/eidosfit/internal/fit"
	"github.com/bennebotix/eidosfit/internal/store"
	"github.com/spf13/cobra"
)

var (
	resumeServerURL string
	resumeLocalMode bool
	resumeOutputDir string
	resumeDataDir   string
)

var resumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Resume fitting from a checkpoint",
	Long: `Resume a fitting job from a saved checkpoint.

Supports two modes:
  1. Server mode (default): POST to server's resume endpoint
  2. Local mode (--local): load the checkpoint and continue stepping locally

Examples:
  # Resume via server
  eidosfit resume abc123 --server-url http://localhost:8080

  # Resume locally
  eidosfit resume abc123 --local --output ./results`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeServerURL, "server-url", "http://localhost:8080", "Server URL for remote resume")
	resumeCmd.Flags().BoolVar(&resumeLocalMode, "local", false, "Resume locally instead of via server")
	resumeCmd.Flags().StringVar(&resumeOutputDir, "output", "./resumed", "Output directory for local mode")
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Checkpoint directory for local mode")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	if resumeLocalMode {
		return runResumeLocal(jobID)
	}
	return runResumeServer(jobID)
}

// runResumeServer sends a resume request to the server, which loads the
// checkpoint and continues the job under a new job id.
func runResumeServer(jobID string) error {
	url := fmt.Sprintf("%s/api/v1/jobs/%s/resume", resumeServerURL, jobID)

	slog.Info("Resuming job via server", "job_id", jobID, "url", url)

	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("checkpoint not found for job %s", jobID)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var result struct {
		JobID              string  `json:"jobId"`
		ResumedFrom        string  `json:"resumedFrom"`
		State              string  `json:"state"`
		Message            string  `json:"message,omitempty"`
		PreviousCost       float64 `json:"previousCost,omitempty"`
		PreviousCommitted  int     `json:"previousCommitted,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Printf("Job resumed successfully\n")
	fmt.Printf("  New job ID: %s (from %s)\n", result.JobID, result.ResumedFrom)
	fmt.Printf("  State: %s\n", result.State)
	fmt.Printf("  Committed so far: %d (cost %.2f)\n", result.PreviousCommitted, result.PreviousCost)
	if result.Message != "" {
		fmt.Printf("  Message: %s\n", result.Message)
	}
	fmt.Printf("\nUse 'eidosfit status %s --server %s' to monitor progress\n", result.JobID, resumeServerURL)

	return nil
}

// runResumeLocal loads a checkpoint from disk and continues stepping the
// Driver locally, without going through the server.
func runResumeLocal(jobID string) error {
	slog.Info("Resuming job locally", "job_id", jobID, "data_dir", resumeDataDir)

	checkpointStore, err := store.NewFSStore(resumeDataDir)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	checkpoint, err := checkpointStore.LoadCheckpoint(jobID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}

	fmt.Printf("Loaded checkpoint:\n")
	fmt.Printf("  Job ID: %s\n", checkpoint.JobID)
	fmt.Printf("  Committed: %d / %d shapes\n", checkpoint.Committed, checkpoint.Config.MaxShapes)
	fmt.Printf("  Best cost: %f\n", checkpoint.BestCost)
	fmt.Printf("  Fidelity: %d\n", checkpoint.Config.FidelityMode)
	fmt.Printf("  Checkpoint time: %s\n\n", checkpoint.Timestamp.Format(time.RFC3339))

	f, err := os.Open(checkpoint.Config.RefPath)
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

	shapes := make([]fit.Ellipse, len(checkpoint.Shapes))
	for i, r := range checkpoint.Shapes {
		shapes[i] = fit.Ellipse{
			X: r.X, Y: r.Y, RX: r.RX, RY: r.RY, Angle: r.Angle,
			R: r.R, G: r.G, B: r.B, A: r.A,
		}
	}

	snapshot := fit.Snapshot{
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
		MaxShapes:    checkpoint.Config.MaxShapes,
		FidelityMode: checkpoint.Config.FidelityMode,
		Shapes:       shapes,
	}

	rng := rand.New(rand.NewSource(checkpoint.Config.Seed))
	driver, err := fit.Resume(ref, snapshot, rng)
	if err != nil {
		return fmt.Errorf("failed to rebuild driver from checkpoint: %w", err)
	}

	remaining := checkpoint.Config.MaxShapes - driver.Committed()
	if remaining <= 0 {
		fmt.Printf("Checkpoint already has all %d shapes committed; nothing to resume\n", checkpoint.Config.MaxShapes)
	} else {
		fmt.Printf("Resuming optimization (%d shapes remaining)...\n", remaining)
	}

	batch := checkpoint.Config.BatchSize
	if batch <= 0 {
		batch = 10
	}

	start := time.Now()
	for !driver.Done() {
		done := driver.Step(batch)
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

	fmt.Printf("\nResume completed in %s\n", elapsed)
	fmt.Printf("  Previous cost: %f\n", checkpoint.BestCost)
	fmt.Printf("  New cost: %f\n", finalCost)
	improvement := checkpoint.BestCost - finalCost
	if improvement > 0 {
		fmt.Printf("  Improvement: %.4f\n", improvement)
	} else if improvement < 0 {
		fmt.Printf("  No improvement\n")
	} else {
		fmt.Printf("  Cost unchanged\n")
	}

	addedShapes := driver.Committed() - checkpoint.Committed
	if elapsed.Seconds() > 0 && addedShapes > 0 {
		sps := float64(addedShapes) / elapsed.Seconds()
		fmt.Printf("  Throughput: %.0f shapes/sec\n", sps)
	}

	if err := os.MkdirAll(resumeOutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	bestPath := filepath.Join(resumeOutputDir, fmt.Sprintf("%s_resumed.png", jobID))
	if err := saveImage(driver.Composite(), bestPath); err != nil {
		return fmt.Errorf("failed to save output image: %w", err)
	}
	fmt.Printf("\nOutput saved to: %s\n", bestPath)

	newShapes := make([]store.ShapeRecord, len(driver.Shapes()))
	for i, s := range driver.Shapes() {
		newShapes[i] = store.ShapeRecord{
			X: s.X, Y: s.Y, RX: s.RX, RY: s.RY, Angle: s.Angle,
			R: s.R, G: s.G, B: s.B, A: s.A,
		}
	}
	updated := store.NewCheckpoint(jobID, newShapes, finalCost, checkpoint.InitialCost, driver.Committed(), checkpoint.Config)
	if err := checkpointStore.SaveCheckpoint(jobID, updated); err != nil {
		slog.Warn("Failed to update checkpoint", "error", err)
	} else {
		fmt.Printf("Checkpoint updated\n")
	}

	return nil
}

// saveImage writes img as a PNG to path.
func saveImage(img image.Image, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}
