package server

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/bennebotix/eidosfit/internal/fit"
	"github.com/bennebotix/eidosfit/internal/store"
)

const defaultBatchSize = 10

// runJob drives a fitting job to completion in the background.
// If checkpointStore is not nil and the job's CheckpointInterval > 0,
// periodic checkpoints are saved.
func runJob(ctx context.Context, jm *JobManager, checkpointStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	}); err != nil {
		return err
	}

	slog.Info("Starting job", "job_id", jobID, "ref", job.Config.RefPath)

	ref, err := loadReferenceImage(job.Config.RefPath)
	if err != nil {
		markJobFailed(jm, jobID, fmt.Errorf("failed to open reference: %w", err))
		return err
	}

	bounds := ref.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	slog.Info("Loaded reference image", "job_id", jobID, "width", width, "height", height)

	rng := rand.New(rand.NewSource(job.Config.Seed))

	isResume := len(job.Shapes) > 0

	var driver *fit.Driver
	var initialCost float64

	if isResume {
		snapshot := fit.Snapshot{
			Width:        width,
			Height:       height,
			MaxShapes:    job.Config.MaxShapes,
			FidelityMode: job.Config.FidelityMode,
			Shapes:       recordsToShapes(job.Shapes),
		}
		driver, err = fit.Resume(ref, snapshot, rng)
		if err != nil {
			markJobFailed(jm, jobID, fmt.Errorf("failed to resume: %w", err))
			return err
		}
		initialCost = job.InitialCost
		slog.Info("Resuming from checkpoint",
			"job_id", jobID,
			"previous_cost", job.BestCost,
			"previous_committed", job.Committed,
		)
	} else {
		driver = fit.NewDriver(ref, job.Config.MaxShapes, job.Config.FidelityMode, rng)
		initialCost = fit.AuditCost(ref, driver.Composite())
	}

	jm.UpdateJob(jobID, func(j *Job) {
		j.Width = width
		j.Height = height
		j.InitialCost = initialCost
	})

	batchSize := job.Config.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	start := time.Now()

	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	var traceWriter *store.TraceWriter
	if checkpointStore != nil {
		tw, err := store.NewTraceWriter("./data", jobID, isResume)
		if err != nil {
			slog.Warn("Failed to create trace writer", "job_id", jobID, "error", err)
		} else {
			traceWriter = tw
			defer func() {
				if err := traceWriter.Close(); err != nil {
					slog.Warn("Failed to close trace writer", "job_id", jobID, "error", err)
				}
			}()
			traceWriter.Write(store.TraceEntry{Index: driver.Committed(), Cost: initialCost, Timestamp: start})
		}
	}

	progressDone := make(chan struct{})
	go monitorProgress(ctx, jm, jobID, start, progressDone)

	checkpointDone := make(chan struct{})
	checkpointEnabled := checkpointStore != nil && job.Config.CheckpointInterval > 0
	if checkpointEnabled {
		go monitorCheckpoints(ctx, jm, checkpointStore, driver, ref, jobID, checkpointDone)
	} else {
		close(checkpointDone)
	}

	for !driver.Done() {
		select {
		case <-ctx.Done():
			close(progressDone)
			if checkpointEnabled {
				close(checkpointDone)
			}
			markJobCancelled(jm, jobID)
			return ctx.Err()
		default:
		}

		done := driver.Step(batchSize)
		bestCost := fit.AuditCost(driver.Target(), driver.Composite())

		jm.UpdateJob(jobID, func(j *Job) {
			j.Shapes = shapesToRecords(driver.Shapes())
			j.Committed = driver.Committed()
			j.BestCost = bestCost
		})

		if traceWriter != nil {
			shapes := driver.Shapes()
			var record *store.ShapeRecord
			if len(shapes) > 0 {
				rec := shapesToRecords(shapes[len(shapes)-1:])[0]
				record = &rec
			}
			traceWriter.Write(store.TraceEntry{
				Index:     driver.Committed(),
				Cost:      bestCost,
				Timestamp: time.Now(),
				Shape:     record,
			})
		}

		if done {
			break
		}
	}

	close(progressDone)
	if checkpointEnabled {
		close(checkpointDone)
	}
	elapsed := time.Since(start)

	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	endTime := time.Now()
	finalCost := fit.AuditCost(driver.Target(), driver.Composite())
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.Shapes = shapesToRecords(driver.Shapes())
		j.Committed = driver.Committed()
		j.BestCost = finalCost
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	sps := float64(driver.Committed()) / elapsed.Seconds()

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"initial_cost", initialCost,
		"best_cost", finalCost,
		"shapes_per_second", sps,
	)

	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:     jobID,
		State:     StateCompleted,
		Committed: driver.Committed(),
		BestCost:  finalCost,
		SPS:       sps,
		Timestamp: time.Now(),
	})

	return nil
}

// monitorProgress periodically broadcasts progress events during fitting.
func monitorProgress(ctx context.Context, jm *JobManager, jobID string, startTime time.Time, done chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, exists := jm.GetJob(jobID)
			if !exists {
				return
			}

			elapsed := time.Since(startTime).Seconds()

			var sps float64
			if elapsed > 0 {
				sps = float64(job.Committed) / elapsed
			}

			jm.broadcaster.Broadcast(ProgressEvent{
				JobID:     jobID,
				State:     job.State,
				Committed: job.Committed,
				BestCost:  job.BestCost,
				SPS:       sps,
				Timestamp: time.Now(),
			})
		}
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}

// monitorCheckpoints periodically saves checkpoints during fitting.
func monitorCheckpoints(ctx context.Context, jm *JobManager, checkpointStore store.Store, driver *fit.Driver, ref *image.NRGBA, jobID string, done chan struct{}) {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return
	}

	interval := time.Duration(job.Config.CheckpointInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := saveCheckpoint(jm, checkpointStore, driver, ref, jobID); err != nil {
				slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}
	}
}

// saveCheckpoint saves a checkpoint for the given job.
func saveCheckpoint(jm *JobManager, checkpointStore store.Store, driver *fit.Driver, ref *image.NRGBA, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if driver.Committed() == 0 {
		slog.Debug("Skipping checkpoint, no shapes committed yet", "job_id", jobID)
		return nil
	}

	checkpoint := store.NewCheckpoint(
		jobID,
		shapesToRecords(driver.Shapes()),
		job.BestCost,
		job.InitialCost,
		driver.Committed(),
		job.Config,
	)

	if err := checkpointStore.SaveCheckpoint(jobID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Info("Checkpoint saved",
		"job_id", jobID,
		"committed", driver.Committed(),
		"best_cost", job.BestCost,
	)

	if err := saveCheckpointArtifacts(jobID, driver, ref); err != nil {
		slog.Warn("Failed to save checkpoint artifacts", "job_id", jobID, "error", err)
	}

	return nil
}

// saveCheckpointArtifacts saves best.png and diff.png to the checkpoint
// directory. Assumes FSStore's ./data/jobs/<jobID>/ layout.
func saveCheckpointArtifacts(jobID string, driver *fit.Driver, ref *image.NRGBA) error {
	jobDir := filepath.Join("./data", "jobs", jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}

	bestPath := filepath.Join(jobDir, "best.png")
	bestFile, err := os.Create(bestPath)
	if err != nil {
		return fmt.Errorf("failed to create best.png: %w", err)
	}
	defer bestFile.Close()

	if err := png.Encode(bestFile, driver.Composite()); err != nil {
		return fmt.Errorf("failed to encode best.png: %w", err)
	}

	diffImg := computeDiffImage(ref, driver.Composite())

	diffPath := filepath.Join(jobDir, "diff.png")
	diffFile, err := os.Create(diffPath)
	if err != nil {
		return fmt.Errorf("failed to create diff.png: %w", err)
	}
	defer diffFile.Close()

	if err := png.Encode(diffFile, diffImg); err != nil {
		return fmt.Errorf("failed to encode diff.png: %w", err)
	}

	slog.Debug("Checkpoint artifacts saved", "job_id", jobID, "best_path", bestPath, "diff_path", diffPath)
	return nil
}
