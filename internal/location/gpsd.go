package location

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"git.home.luguber.info/inful/fencewatch/internal/logfields"
)

// GPSDProvider reads TPV reports from a gpsd instance over its JSON protocol.
// gpsd pushes reports; the provider keeps the newest one for polling callers.
type GPSDProvider struct {
	latestFix

	address string
	dialer  net.Dialer

	conn   net.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewGPSDProvider creates a provider for the given gpsd address (host:port).
func NewGPSDProvider(address string) *GPSDProvider {
	return &GPSDProvider{address: address}
}

// tpvReport is the subset of gpsd's TPV class the engine consumes.
type tpvReport struct {
	Class string   `json:"class"`
	Time  string   `json:"time"`
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	EPX   *float64 `json:"epx"`
	EPY   *float64 `json:"epy"`
	Speed *float64 `json:"speed"`
	Track *float64 `json:"track"`
}

// Start connects to gpsd, enables watch mode, and begins consuming reports.
func (p *GPSDProvider) Start(ctx context.Context) error {
	conn, err := p.dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return fmt.Errorf("dial gpsd %s: %w", p.address, err)
	}

	if _, err := conn.Write([]byte(`?WATCH={"enable":true,"json":true}` + "\n")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("enable gpsd watch: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	p.conn = conn
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.readLoop(readCtx, conn)
	return nil
}

func (p *GPSDProvider) readLoop(ctx context.Context, conn net.Conn) {
	defer close(p.done)
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		var report tpvReport
		if err := json.Unmarshal(scanner.Bytes(), &report); err != nil {
			continue
		}
		if report.Class != "TPV" || report.Lat == nil || report.Lon == nil {
			continue
		}

		ts := time.Now()
		if report.Time != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, report.Time); err == nil {
				ts = parsed
			}
		}

		fix := Fix{
			Latitude:  *report.Lat,
			Longitude: *report.Lon,
			Timestamp: ts,
			Speed:     report.Speed,
			Heading:   report.Track,
		}
		if report.EPX != nil && report.EPY != nil {
			// gpsd reports per-axis error estimates; take the worse one.
			fix.Accuracy = max(*report.EPX, *report.EPY)
		}
		p.store(fix)
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		slog.Warn("gpsd stream closed", logfields.Error(err))
	}
}

// Current returns the most recent TPV-derived fix.
func (p *GPSDProvider) Current(_ context.Context) (Fix, error) {
	fix, ok := p.load()
	if !ok {
		return Fix{}, ErrNoFix
	}
	return fix, nil
}

// Stop closes the gpsd connection and waits for the read loop to exit.
func (p *GPSDProvider) Stop() error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	err := p.conn.Close()
	<-p.done
	p.cancel = nil
	return err
}
