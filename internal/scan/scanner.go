package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/telereplica/discovery/internal/platform/observability"
	db "github.com/telereplica/discovery/internal/storage"
)

// Scan states reported by Status.
const (
	StateIdle      = "idle"
	StateScanning  = "scanning"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

var (
	// ErrScanInProgress is returned by Start while another scan is running.
	ErrScanInProgress = errors.New("scan already in progress")

	// ErrSourceNotReady is returned by Start when the dialog source is not
	// connected to Telegram.
	ErrSourceNotReady = errors.New("dialog source not connected")
)

// Cursor is the pagination position within the dialog list.
// The zero value starts from the most recent dialog. A source sets
// Exhausted on the cursor it returns with the final page.
type Cursor struct {
	OffsetDate int
	OffsetID   int
	OffsetPeer tg.InputPeerClass
	Exhausted  bool
}

// DialogSource supplies pages of dialogs from the Telegram account.
type DialogSource interface {
	// Connected reports whether the source can serve dialogs right now.
	Connected() bool

	// NextDialogs returns the next page and the cursor for the page after
	// it. An empty page means the list is exhausted.
	NextDialogs(ctx context.Context, cursor Cursor, limit int) ([]Dialog, Cursor, error)
}

// ChatStore persists normalized chat records.
type ChatStore interface {
	UpsertChat(ctx context.Context, rec db.ChatRecord) (bool, error)
}

// Options control a single scan run.
type Options struct {
	// MaxChats caps how many dialogs a run processes. Zero or negative
	// uses the scanner default.
	MaxChats int

	// IncludePrivate records one-on-one dialogs too.
	IncludePrivate bool

	// ForceRefresh re-records every dialog regardless of what is already
	// stored. Scans always do a full pass, so this only documents intent.
	ForceRefresh bool
}

// Status is a point-in-time snapshot of the scanner. Total is the cap
// the run works towards while scanning and the processed count once it
// finishes.
type Status struct {
	State            string `json:"status"`
	ScanID           string `json:"scan_id,omitempty"`
	Current          int    `json:"current"`
	Total            int    `json:"total"`
	CurrentChatTitle string `json:"current_chat_title,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Stats accumulates over one scan run and persists until the next run
// resets it.
type Stats struct {
	TotalScanned  int        `json:"total_scanned"`
	NewDiscovered int        `json:"new_discovered"`
	Updated       int        `json:"updated"`
	Errors        int        `json:"errors"`
	LastScan      *time.Time `json:"last_scan"`
	ScanDuration  float64    `json:"scan_duration"`
}

// Config configures a Scanner.
type Config struct {
	Source DialogSource
	Store  ChatStore
	Logger *zerolog.Logger

	// PageSize is the number of dialogs requested per source page.
	PageSize int

	// BatchSize is the number of dialogs processed between courtesy waits.
	BatchSize int

	// BatchDelay is the courtesy wait between batches.
	BatchDelay time.Duration

	// MaxChats is the default cap when Options does not set one.
	MaxChats int
}

// Scanner walks the dialog list and records every usable entity. At most
// one scan runs at a time.
type Scanner struct {
	source  DialogSource
	store   ChatStore
	logger  *zerolog.Logger
	limiter *rate.Limiter

	pageSize  int
	batchSize int
	maxChats  int

	mu       sync.Mutex
	scanning bool
	status   Status
	stats    Stats
	notify   func(Status)
}

// New creates a Scanner. Zero config fields fall back to safe defaults.
func New(cfg Config) *Scanner {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}

	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = 500 * time.Millisecond
	}

	if cfg.MaxChats <= 0 {
		cfg.MaxChats = 1000
	}

	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Scanner{
		source:    cfg.Source,
		store:     cfg.Store,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Every(cfg.BatchDelay), 1),
		pageSize:  cfg.PageSize,
		batchSize: cfg.BatchSize,
		maxChats:  cfg.MaxChats,
		status:    Status{State: StateIdle},
	}
}

// SetNotify registers a callback invoked on every status change. The
// callback must not block; it runs on the scan goroutine.
func (s *Scanner) SetNotify(fn func(Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
}

// Ready reports whether a scan could start right now.
func (s *Scanner) Ready() bool {
	return s.source != nil && s.source.Connected()
}

// Scanning reports whether a scan is currently running.
func (s *Scanner) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.scanning
}

// Status returns a snapshot of the current scan state.
func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// Stats returns the cumulative counters from the most recent run.
func (s *Scanner) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stats
}

// Start begins a scan in the background and returns its id. The context
// should outlive the HTTP request that triggered the scan.
func (s *Scanner) Start(ctx context.Context, opts Options) (string, error) {
	if !s.Ready() {
		return "", ErrSourceNotReady
	}

	scanID := uuid.NewString()

	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()

		return "", ErrScanInProgress
	}

	s.scanning = true
	s.status = Status{State: StateScanning, ScanID: scanID}
	s.stats = Stats{}
	s.mu.Unlock()

	go s.run(ctx, scanID, opts)

	return scanID, nil
}

func (s *Scanner) run(ctx context.Context, scanID string, opts Options) {
	maxChats := opts.MaxChats
	if maxChats <= 0 {
		maxChats = s.maxChats
	}

	s.mu.Lock()
	s.status.Total = maxChats
	s.mu.Unlock()

	started := time.Now()

	s.logger.Info().
		Str("scan_id", scanID).
		Int("max_chats", maxChats).
		Bool("include_private", opts.IncludePrivate).
		Msg("scan started")

	err := s.safeWalk(ctx, maxChats, opts.IncludePrivate)

	finished := time.Now()
	duration := finished.Sub(started)

	s.mu.Lock()
	s.scanning = false
	s.stats.LastScan = &finished
	s.stats.ScanDuration = duration.Seconds()

	if err != nil {
		s.status.State = StateFailed
		s.status.Error = err.Error()
	} else {
		s.status.State = StateCompleted
	}

	status := s.status
	stats := s.stats
	notify := s.notify
	s.mu.Unlock()

	observability.ScansTotal.WithLabelValues(status.State).Inc()
	observability.ScanDurationSeconds.Observe(duration.Seconds())

	event := s.logger.Info()
	if err != nil {
		event = s.logger.Error().Err(err)
	}

	event.
		Str("scan_id", scanID).
		Int("total_scanned", stats.TotalScanned).
		Int("new_discovered", stats.NewDiscovered).
		Int("updated", stats.Updated).
		Int("errors", stats.Errors).
		Dur("duration", duration).
		Msg("scan finished")

	if notify != nil {
		notify(status)
	}
}

// safeWalk converts a panic inside the scan loop into a failed run so the
// in-progress flag is always released.
func (s *Scanner) safeWalk(ctx context.Context, maxChats int, includePrivate bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan panicked: %v", r)
		}
	}()

	return s.walk(ctx, maxChats, includePrivate)
}

func (s *Scanner) walk(ctx context.Context, maxChats int, includePrivate bool) error {
	var (
		cursor    Cursor
		processed int
	)

	for processed < maxChats {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("scan interrupted: %w", err)
		}

		limit := s.pageSize
		if remaining := maxChats - processed; remaining < limit {
			limit = remaining
		}

		page, next, err := s.source.NextDialogs(ctx, cursor, limit)
		if err != nil {
			return fmt.Errorf("fetch dialogs: %w", err)
		}

		if len(page) == 0 {
			break
		}

		for _, dialog := range page {
			processed++

			s.processDialog(ctx, dialog, includePrivate)
			s.setProgress(processed)

			if processed%s.batchSize == 0 {
				if err := s.limiter.Wait(ctx); err != nil {
					return fmt.Errorf("scan interrupted: %w", err)
				}
			}

			if processed >= maxChats {
				break
			}
		}

		cursor = next
		if cursor.Exhausted {
			break
		}
	}

	s.mu.Lock()
	s.status.Total = processed
	s.mu.Unlock()

	return nil
}

func (s *Scanner) processDialog(ctx context.Context, dialog Dialog, includePrivate bool) {
	observability.DialogsScanned.Inc()

	rec, ok := Normalize(dialog, time.Now().UTC())
	if !ok {
		return
	}

	if rec.Type == db.ChatTypePrivate && !includePrivate {
		return
	}

	s.mu.Lock()
	s.stats.TotalScanned++
	s.status.CurrentChatTitle = rec.Title
	s.mu.Unlock()

	inserted, err := s.store.UpsertChat(ctx, rec)
	if err != nil {
		observability.ScanErrors.Inc()

		s.mu.Lock()
		s.stats.Errors++
		s.mu.Unlock()

		s.logger.Warn().Err(err).Int64("chat_id", rec.ID).Msg("failed to store chat")

		return
	}

	s.mu.Lock()
	if inserted {
		s.stats.NewDiscovered++
	} else {
		s.stats.Updated++
	}
	s.mu.Unlock()

	outcome := "updated"
	if inserted {
		outcome = "inserted"
	}

	observability.ChatsDiscovered.WithLabelValues(outcome).Inc()
}

func (s *Scanner) setProgress(current int) {
	s.mu.Lock()
	s.status.Current = current
	status := s.status
	notify := s.notify
	s.mu.Unlock()

	if notify != nil && current%s.batchSize == 0 {
		notify(status)
	}
}
