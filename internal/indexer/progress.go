package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Checkpoint is the highest block whose logs have all been dispatched.
type Checkpoint struct {
	LastProcessedBlock uint64    `json:"last_processed_block"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Progress tracks how far the runner has dispatched, across backfill spans
// and live streams, and writes it to a JSON file when persistence is on.
// The position only moves forward.
type Progress struct {
	mu      sync.Mutex
	path    string
	persist bool
	now     func() time.Time

	resumed bool
	done    uint64
	hasDone bool

	// heads holds the newest block seen on each live stream. A stream has
	// dispatched everything below its head.
	heads map[string]uint64
	live  bool
}

func NewProgress(path string, persist bool) *Progress {
	return &Progress{
		path:    path,
		persist: persist && path != "",
		now:     time.Now,
		heads:   make(map[string]uint64),
	}
}

// Load reads the persisted checkpoint without touching in-memory progress.
func (p *Progress) Load() (Checkpoint, bool, error) {
	if !p.persist {
		return Checkpoint{}, false, nil
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint %s: %w", p.path, err)
	}
	return cp, true, nil
}

// Next returns the first block still to fetch. A configured start block
// ahead of the recorded position wins. Zero means there is nowhere to start.
func (p *Progress) Next(from uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.resumed {
		cp, ok, err := p.Load()
		if err != nil {
			return 0, err
		}
		p.resumed = true
		if ok && (!p.hasDone || cp.LastProcessedBlock > p.done) {
			p.done, p.hasDone = cp.LastProcessedBlock, true
		}
	}
	if p.hasDone && p.done >= from {
		return p.done + 1, nil
	}
	return from, nil
}

// Complete records that every log up to and including block was dispatched.
func (p *Progress) Complete(block uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advance(block)
}

// Observe records a live log about to be dispatched on stream. Once live
// commits are enabled, the block below the slowest reporting stream's head
// becomes complete.
func (p *Progress) Observe(stream string, block uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if block > p.heads[stream] {
		p.heads[stream] = block
	}
	return p.commitLive()
}

// StartLive lets live streams move the position. Until then their heads are
// only recorded, so a pending backfill is never skipped on restart.
func (p *Progress) StartLive() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.live = true
	return p.commitLive()
}

// Position reports the highest completed block.
func (p *Progress) Position() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.hasDone
}

func (p *Progress) commitLive() error {
	if !p.live || len(p.heads) == 0 {
		return nil
	}
	var slowest uint64
	first := true
	for _, head := range p.heads {
		if first || head < slowest {
			slowest, first = head, false
		}
	}
	if slowest == 0 {
		return nil
	}
	return p.advance(slowest - 1)
}

func (p *Progress) advance(block uint64) error {
	if p.hasDone && block <= p.done {
		return nil
	}
	p.done, p.hasDone = block, true
	return p.save(block)
}

// save writes through a temp file so a crash never leaves a torn checkpoint.
func (p *Progress) save(block uint64) error {
	if !p.persist {
		return nil
	}

	if dir := filepath.Dir(p.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	data, err := json.Marshal(Checkpoint{
		LastProcessedBlock: block,
		UpdatedAt:          p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := p.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}
