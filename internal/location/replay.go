package location

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// ReplayProvider serves fixes from a JSON-lines file, one sample per Current
// call. It backs the replay provider kind and keeps scripted scenarios (and
// tests) independent of real hardware.
type ReplayProvider struct {
	mu    sync.Mutex
	fixes []Fix
	pos   int

	// Loop restarts from the beginning when the script is exhausted.
	Loop bool
}

// NewReplayProvider loads a script file. Each line is a JSON-encoded Fix;
// blank lines and lines starting with '#' are skipped. Fixes without a
// timestamp are stamped at read time.
func NewReplayProvider(path string) (*ReplayProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay script: %w", err)
	}
	defer f.Close()

	var fixes []Fix
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		var fix Fix
		if err := json.Unmarshal(raw, &fix); err != nil {
			return nil, fmt.Errorf("replay script line %d: %w", line, err)
		}
		fixes = append(fixes, fix)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read replay script: %w", err)
	}
	if len(fixes) == 0 {
		return nil, fmt.Errorf("replay script %s contains no fixes", path)
	}
	return &ReplayProvider{fixes: fixes}, nil
}

// NewScriptedProvider wraps an in-memory fix sequence. Used by tests and the
// end-to-end scenarios.
func NewScriptedProvider(fixes ...Fix) *ReplayProvider {
	return &ReplayProvider{fixes: fixes}
}

func (p *ReplayProvider) Start(context.Context) error { return nil }

// Current returns the next scripted fix. After the script ends the last fix
// is repeated (or the script restarts when Loop is set).
func (p *ReplayProvider) Current(context.Context) (Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.fixes) == 0 {
		return Fix{}, ErrNoFix
	}

	if p.pos >= len(p.fixes) {
		if p.Loop {
			p.pos = 0
		} else {
			p.pos = len(p.fixes) - 1
		}
	}

	fix := p.fixes[p.pos]
	p.pos++
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now()
	}
	return fix, nil
}

func (p *ReplayProvider) Stop() error { return nil }

// Remaining reports how many scripted fixes have not been served yet.
func (p *ReplayProvider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pos >= len(p.fixes) {
		return 0
	}
	return len(p.fixes) - p.pos
}
