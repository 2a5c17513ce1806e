package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"floorScope/internal/model"
)

// jsonlWriter appends records to a JSONL file.
type jsonlWriter struct {
	path string
	mu   sync.Mutex
}

func (w *jsonlWriter) append(records []interface{}) error {
	if len(records) == 0 {
		return nil
	}

	dir := filepath.Dir(w.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}

// JsonlEventLog archives finalized events as JSON lines.
type JsonlEventLog struct {
	w jsonlWriter
}

func NewJsonlEventLog(path string) *JsonlEventLog {
	return &JsonlEventLog{w: jsonlWriter{path: path}}
}

func (l *JsonlEventLog) AddNFTEvent(_ context.Context, event model.CanonicalEvent) error {
	return l.w.append([]interface{}{event})
}

// ReadEvents loads an event archive back into memory.
func ReadEvents(path string) ([]model.CanonicalEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer file.Close()

	var events []model.CanonicalEvent
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var ev model.CanonicalEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("parse event line %d: %w", len(events)+1, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}
	return events, nil
}

// JsonlDecodeErrors records logs a listener failed to handle.
type JsonlDecodeErrors struct {
	w jsonlWriter
}

func NewJsonlDecodeErrors(path string) *JsonlDecodeErrors {
	return &JsonlDecodeErrors{w: jsonlWriter{path: path}}
}

// PutDecodeErrors appends decode failures as JSON lines.
func (l *JsonlDecodeErrors) PutDecodeErrors(errs []model.DecodeError) error {
	records := make([]interface{}, 0, len(errs))
	for _, e := range errs {
		records = append(records, e)
	}
	return l.w.append(records)
}
