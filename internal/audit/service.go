// Package audit records language-model generations. Entries are queued and
// persisted by a background worker so request handlers never wait on storage.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sumanism/ECA2/internal/logger"
)

// Generation kinds.
const (
	KindSegment     = "segment"
	KindFlowContent = "flow_content"
	KindFlowFromSeg = "flow_from_segment"
	KindCampaign    = "campaign"
	KindChat        = "chat"
)

// DefaultQueueSize bounds pending entries when NewService gets no size.
const DefaultQueueSize = 256

const writeTimeout = 5 * time.Second

// Clock interface for testable time operations
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now()
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Entry is one generation to persist.
type Entry struct {
	OccurredAt time.Time `json:"occurred_at"`
	RequestID  string    `json:"request_id,omitempty"`
	Kind       string    `json:"kind"`
	Prompt     string    `json:"prompt"`
	Output     any       `json:"output"`
	Failed     bool      `json:"failed"`
	// ErrorType is the classified AI error when Failed.
	ErrorType string `json:"error_type,omitempty"`
}

// Sink persists entries.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Service queues entries for a single background writer.
type Service struct {
	sink   Sink
	clock  Clock
	log    logger.Logger
	queue  chan Entry
	stopCh chan struct{}
	done   chan struct{}
	closed atomic.Bool

	// dropped counts entries rejected because the queue was full.
	dropped atomic.Int64
	once    sync.Once
}

// NewService starts the writer. queueSize <= 0 means DefaultQueueSize.
func NewService(sink Sink, clock Clock, log logger.Logger, queueSize int) *Service {
	if clock == nil {
		clock = SystemClock{}
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	s := &Service{
		sink:   sink,
		clock:  clock,
		log:    log.Component("audit"),
		queue:  make(chan Entry, queueSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.worker()
	return s
}

func (s *Service) worker() {
	defer close(s.done)
	for {
		select {
		case e := <-s.queue:
			s.write(e)
		case <-s.stopCh:
			for {
				select {
				case e := <-s.queue:
					s.write(e)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.sink.Write(ctx, e); err != nil {
		s.log.Warn().Err(err).Str("kind", e.Kind).Msg("failed to write generation log")
	}
}

// Log queues e, stamping OccurredAt when unset. Entries logged after Close,
// or while the queue is full, are dropped.
func (s *Service) Log(e Entry) {
	if s.closed.Load() {
		s.dropped.Add(1)
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.clock.Now()
	}

	select {
	case s.queue <- e:
	default:
		s.dropped.Add(1)
		s.log.Warn().Str("kind", e.Kind).Msg("generation log queue full, dropping entry")
	}
}

// Dropped returns the number of entries that were not queued.
func (s *Service) Dropped() int64 { return s.dropped.Load() }

// Close stops the writer after draining queued entries. It blocks until the
// drain finishes or ctx is done, and is safe to call more than once.
func (s *Service) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.stopCh)
	})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
