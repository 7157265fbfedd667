package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ammscope/internal/model"
)

// JsonlTape appends price updates to a JSONL file.
type JsonlTape struct {
	path string

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

func NewJsonlTape(path string) *JsonlTape {
	return &JsonlTape{path: path}
}

// Publish appends one update and flushes it.
func (t *JsonlTape) Publish(_ context.Context, update model.PriceUpdate) error {
	return t.appendBatch([]model.PriceUpdate{update})
}

// appendBatch appends a batch of updates as JSON lines.
func (t *JsonlTape) appendBatch(updates []model.PriceUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.openLocked(); err != nil {
		return err
	}

	for _, update := range updates {
		line, err := json.Marshal(update)
		if err != nil {
			return fmt.Errorf("marshal price update: %w", err)
		}
		if _, err := t.writer.Write(line); err != nil {
			return fmt.Errorf("write price update: %w", err)
		}
		if err := t.writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("flush tape: %w", err)
	}

	return nil
}

// Close flushes and closes the file. The tape reopens on the next write.
func (t *JsonlTape) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return nil
	}
	flushErr := t.writer.Flush()
	closeErr := t.file.Close()
	t.file, t.writer = nil, nil
	if flushErr != nil {
		return fmt.Errorf("flush tape: %w", flushErr)
	}
	return closeErr
}

func (t *JsonlTape) openLocked() error {
	if t.file != nil {
		return nil
	}

	dir := filepath.Dir(t.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create tape dir: %w", err)
		}
	}

	file, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open tape file: %w", err)
	}
	t.file = file
	t.writer = bufio.NewWriter(file)
	return nil
}
