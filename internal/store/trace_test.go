package store

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTraceWriter_WriteAndRead(t *testing.T) {
	tmpDir := t.TempDir()
	jobID := "test-job-123"

	writer, err := NewTraceWriter(tmpDir, jobID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}

	shape := ShapeRecord{X: 1, Y: 2, RX: 3, RY: 4}
	entries := []TraceEntry{
		{Index: 0, Cost: 1.0, Timestamp: time.Now()},
		{Index: 10, Cost: 0.8, Timestamp: time.Now()},
		{Index: 20, Cost: 0.6, Timestamp: time.Now(), Shape: &shape},
		{Index: 30, Cost: 0.4, Timestamp: time.Now()},
	}

	for _, entry := range entries {
		if err := writer.Write(entry); err != nil {
			t.Fatalf("Failed to write entry: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	tracePath := filepath.Join(tmpDir, "jobs", jobID, "trace.jsonl")
	if _, err := os.Stat(tracePath); os.IsNotExist(err) {
		t.Fatalf("Trace file not created: %s", tracePath)
	}

	reader, err := NewTraceReader(tmpDir, jobID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	readEntries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}

	if len(readEntries) != len(entries) {
		t.Fatalf("Expected %d entries, got %d", len(entries), len(readEntries))
	}

	for i, entry := range readEntries {
		if entry.Index != entries[i].Index {
			t.Errorf("Entry %d: expected index %d, got %d", i, entries[i].Index, entry.Index)
		}
		if entry.Cost != entries[i].Cost {
			t.Errorf("Entry %d: expected cost %f, got %f", i, entries[i].Cost, entry.Cost)
		}
	}
	if readEntries[2].Shape == nil || *readEntries[2].Shape != shape {
		t.Errorf("Entry 2: expected shape %+v, got %+v", shape, readEntries[2].Shape)
	}
}

func TestTraceWriter_Append(t *testing.T) {
	tmpDir := t.TempDir()
	jobID := "test-job-append"

	writer, err := NewTraceWriter(tmpDir, jobID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}

	if err := writer.Write(TraceEntry{Index: 0, Cost: 1.0, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Failed to write entry: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	writer, err = NewTraceWriter(tmpDir, jobID, true)
	if err != nil {
		t.Fatalf("Failed to create trace writer in append mode: %v", err)
	}

	if err := writer.Write(TraceEntry{Index: 10, Cost: 0.8, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Failed to write entry: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	reader, err := NewTraceReader(tmpDir, jobID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Index != 0 {
		t.Errorf("First entry: expected index 0, got %d", entries[0].Index)
	}
	if entries[1].Index != 10 {
		t.Errorf("Second entry: expected index 10, got %d", entries[1].Index)
	}
}

func TestTraceWriter_Flush(t *testing.T) {
	tmpDir := t.TempDir()
	jobID := "test-job-flush"

	writer, err := NewTraceWriter(tmpDir, jobID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}
	defer writer.Close()

	if err := writer.Write(TraceEntry{Index: 0, Cost: 1.0, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Failed to write entry: %v", err)
	}

	if err := writer.Flush(); err != nil {
		t.Fatalf("Failed to flush: %v", err)
	}

	tracePath := filepath.Join(tmpDir, "jobs", jobID, "trace.jsonl")
	data, err := os.ReadFile(tracePath)
	if err != nil {
		t.Fatalf("Failed to read trace file: %v", err)
	}
	if len(data) == 0 {
		t.Error("Trace file is empty after flush")
	}
}

func TestTraceReader_ReadIteratively(t *testing.T) {
	tmpDir := t.TempDir()
	jobID := "test-job-iter"

	writer, err := NewTraceWriter(tmpDir, jobID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := writer.Write(TraceEntry{Index: i * 10, Cost: 1.0 - float64(i)*0.1, Timestamp: time.Now()}); err != nil {
			t.Fatalf("Failed to write entry: %v", err)
		}
	}
	writer.Close()

	reader, err := NewTraceReader(tmpDir, jobID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	count := 0
	for {
		entry, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Failed to read entry: %v", err)
		}

		expected := count * 10
		if entry.Index != expected {
			t.Errorf("Entry %d: expected index %d, got %d", count, expected, entry.Index)
		}

		count++
	}

	if count != 5 {
		t.Errorf("Expected to read 5 entries, got %d", count)
	}
}

func TestTraceReader_NotFound(t *testing.T) {
	tmpDir := t.TempDir()
	jobID := "nonexistent-job"

	_, err := NewTraceReader(tmpDir, jobID)
	if err == nil {
		t.Fatal("Expected error for nonexistent trace file")
	}

	if !isNotFoundError(err) {
		t.Errorf("Expected NotFoundError, got: %v", err)
	}
}

func TestTraceWriter_WithShape(t *testing.T) {
	tmpDir := t.TempDir()
	jobID := "test-job-shape"

	writer, err := NewTraceWriter(tmpDir, jobID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}

	shape := ShapeRecord{X: 10, Y: 20, RX: 5, RY: 6, Angle: 0.1, R: 1, G: 2, B: 3, A: 4}
	entry := TraceEntry{
		Index:     100,
		Cost:      0.123,
		Timestamp: time.Now(),
		Shape:     &shape,
	}

	if err := writer.Write(entry); err != nil {
		t.Fatalf("Failed to write entry with shape: %v", err)
	}
	writer.Close()

	reader, err := NewTraceReader(tmpDir, jobID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	readEntry, err := reader.Read()
	if err != nil {
		t.Fatalf("Failed to read entry: %v", err)
	}

	if readEntry.Shape == nil || *readEntry.Shape != shape {
		t.Fatalf("expected shape %+v, got %+v", shape, readEntry.Shape)
	}
}

func TestTraceWriter_EmptyShape(t *testing.T) {
	tmpDir := t.TempDir()
	jobID := "test-job-no-shape"

	writer, err := NewTraceWriter(tmpDir, jobID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}

	entry := TraceEntry{
		Index:     50,
		Cost:      0.456,
		Timestamp: time.Now(),
		Shape:     nil,
	}

	if err := writer.Write(entry); err != nil {
		t.Fatalf("Failed to write entry: %v", err)
	}
	writer.Close()

	reader, err := NewTraceReader(tmpDir, jobID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	readEntry, err := reader.Read()
	if err != nil {
		t.Fatalf("Failed to read entry: %v", err)
	}

	if readEntry.Shape != nil {
		t.Errorf("Expected no shape, got %+v", readEntry.Shape)
	}
}

func TestDeleteTrace(t *testing.T) {
	tmpDir := t.TempDir()
	jobID := "test-job-delete"

	writer, err := NewTraceWriter(tmpDir, jobID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}
	writer.Write(TraceEntry{Index: 0, Cost: 1.0, Timestamp: time.Now()})
	writer.Close()

	tracePath := filepath.Join(tmpDir, "jobs", jobID, "trace.jsonl")
	if _, err := os.Stat(tracePath); os.IsNotExist(err) {
		t.Fatal("Trace file was not created")
	}

	if err := DeleteTrace(tmpDir, jobID); err != nil {
		t.Fatalf("Failed to delete trace: %v", err)
	}

	if _, err := os.Stat(tracePath); !os.IsNotExist(err) {
		t.Error("Trace file still exists after delete")
	}
}

func TestDeleteTrace_NotFound(t *testing.T) {
	tmpDir := t.TempDir()
	jobID := "nonexistent-job"

	if err := DeleteTrace(tmpDir, jobID); err != nil {
		t.Errorf("DeleteTrace should not error for nonexistent file, got: %v", err)
	}
}

func TestTraceWriter_ConcurrentWrites(t *testing.T) {
	tmpDir := t.TempDir()
	jobID := "test-job-concurrent"

	writer, err := NewTraceWriter(tmpDir, jobID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}
	defer writer.Close()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(idx int) {
			entry := TraceEntry{
				Index:     idx,
				Cost:      float64(idx),
				Timestamp: time.Now(),
			}
			if err := writer.Write(entry); err != nil {
				t.Errorf("Concurrent write failed: %v", err)
			}
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	writer.Flush()

	reader, err := NewTraceReader(tmpDir, jobID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}

	if len(entries) != 10 {
		t.Errorf("Expected 10 entries, got %d", len(entries))
	}
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*NotFoundError)
	return ok
}
