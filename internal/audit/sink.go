// Package audit provides the durable JSONL audit trail for every domain
// event the engine emits. It is adapted from the teacher's
// internal/events/event_bus.go: that bus fanned events out to in-memory
// subscribers over channels; this sink keeps the same "one owner serializes
// writes" shape but durably appends each event as one JSON line instead of
// publishing to subscribers, and layers trace correlation (ListByTrace) on
// top of an in-memory index rather than a pub/sub registry.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/volbalance/internal/domain"
	"github.com/atlas-desktop/volbalance/internal/ports"
)

// record is the on-disk JSONL shape. Field names are stable; this file is
// meant to be tailed and grepped.
type record struct {
	EventID       string                 `json:"event_id"`
	CreatedAt     string                 `json:"created_at"`
	EventType     string                 `json:"event_type"`
	TraceID       string                 `json:"trace_id"`
	ParentEventID string                 `json:"parent_event_id,omitempty"`
	TenantID      string                 `json:"tenant_id"`
	PortfolioID   string                 `json:"portfolio_id,omitempty"`
	AssetID       string                 `json:"asset_id,omitempty"`
	Source        string                 `json:"source,omitempty"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
}

// Sink is the single shared append point for audit events. Every Append
// call takes the same mutex that guards the file writer, so concurrent
// callers (the live scheduler's per-position actors, the reconciler, the
// simulation engine) serialize on this one lock rather than racing the
// underlying *os.File. It also indexes events by trace in memory so it can
// serve ports.EventsRepo.ListByTrace without re-reading the file.
type Sink struct {
	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	byTrace map[string][]domain.Event
	logger  *zap.Logger
}

var _ ports.EventsRepo = (*Sink)(nil)

// Open creates or appends to the JSONL file at path and returns a ready
// Sink, replaying any events already on disk into the trace index so
// ListByTrace works across restarts. Callers must call Close when done to
// flush the buffered writer.
func Open(path string, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	byTrace, err := loadIndex(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &Sink{
		file:    f,
		writer:  bufio.NewWriter(f),
		byTrace: byTrace,
		logger:  logger,
	}, nil
}

// loadIndex rebuilds the in-memory trace index from a pre-existing JSONL
// file. A missing file is not an error; it just means a fresh sink.
func loadIndex(path string) (map[string][]domain.Event, error) {
	byTrace := make(map[string][]domain.Event)

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return byTrace, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: open %s for replay: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("audit: replay %s: %w", path, err)
		}
		createdAt, err := timeParse(rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("audit: replay %s: %w", path, err)
		}
		e := domain.Event{
			EventID:       rec.EventID,
			CreatedAt:     createdAt,
			EventType:     domain.EventType(rec.EventType),
			TraceID:       rec.TraceID,
			ParentEventID: rec.ParentEventID,
			TenantID:      rec.TenantID,
			PortfolioID:   rec.PortfolioID,
			AssetID:       rec.AssetID,
			Source:        rec.Source,
			Payload:       rec.Payload,
		}
		byTrace[e.TraceID] = append(byTrace[e.TraceID], e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: replay %s: %w", path, err)
	}
	return byTrace, nil
}

// Append writes e as one JSON line and indexes it under its trace. It
// flushes after every write: the audit trail favors durability over
// throughput, since it is the record regulators and support engineers read
// after the fact, not a hot path.
func (s *Sink) Append(_ context.Context, e domain.Event) error {
	rec := record{
		EventID:       e.EventID,
		CreatedAt:     e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"),
		EventType:     string(e.EventType),
		TraceID:       e.TraceID,
		ParentEventID: e.ParentEventID,
		TenantID:      e.TenantID,
		PortfolioID:   e.PortfolioID,
		AssetID:       e.AssetID,
		Source:        e.Source,
		Payload:       e.Payload,
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal event %s: %w", e.EventID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.writer.Write(line); err != nil {
		return fmt.Errorf("audit: write event %s: %w", e.EventID, err)
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("audit: write event %s: %w", e.EventID, err)
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("audit: flush event %s: %w", e.EventID, err)
	}

	s.byTrace[e.TraceID] = append(s.byTrace[e.TraceID], e)
	s.logger.Debug("audit event appended",
		zap.String("event_id", e.EventID),
		zap.String("event_type", string(e.EventType)),
		zap.String("trace_id", e.TraceID),
	)
	return nil
}

// ListByTrace returns every event recorded under traceID, in append order.
// The slice returned is a copy; callers cannot mutate the sink's index.
func (s *Sink) ListByTrace(_ context.Context, traceID string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.byTrace[traceID]
	out := make([]domain.Event, len(events))
	copy(out, events)
	return out, nil
}

func timeParse(s string) (time.Time, error) {
	return time.Parse("2006-01-02T15:04:05.000000000Z07:00", s)
}

// Close flushes any buffered bytes and closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}
