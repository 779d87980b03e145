// Package recorder provides the asynchronous flat-file transaction log
// used when no SQL backend is active. Producers never block: records go
// into an unbounded in-memory queue drained by a single writer
// goroutine onto a size-rotated log file.
package recorder

import (
	"log/slog"
	"path/filepath"
	"sync"

	"emerald_exchange/internal/domain"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls the rotated log file.
type Options struct {
	Dir        string
	FileName   string // default transactions.log
	MaxSizeMB  int    // default 10
	MaxBackups int    // default 5
	MaxAgeDays int    // default 30
	Console    bool   // echo each line to the app log
}

// Recorder is the async trade logger. Enqueue is non-blocking and safe
// from any goroutine; ordering per producer is preserved because the
// queue is FIFO and a single consumer drains it.
type Recorder struct {
	out     *lumberjack.Logger
	console bool

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*domain.TradeRecord
	closed bool

	done chan struct{}
}

// New starts a recorder writing under opts.Dir.
func New(opts Options) *Recorder {
	if opts.FileName == "" {
		opts.FileName = "transactions.log"
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 5
	}
	if opts.MaxAgeDays <= 0 {
		opts.MaxAgeDays = 30
	}

	r := &Recorder{
		out: &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, opts.FileName),
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		},
		console: opts.Console,
		done:    make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	go r.run()
	return r
}

// Log enqueues a record. After Close the record is dropped with a
// warning rather than blocking or panicking.
func (r *Recorder) Log(record *domain.TradeRecord) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		slog.Warn("transaction recorder closed, record dropped",
			slog.String("trade", record.ID))
		return
	}
	r.queue = append(r.queue, record)
	r.cond.Signal()
	r.mu.Unlock()
}

// Pending returns the number of queued, unwritten records.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// run is the single consumer: it drains the queue in batches and writes
// each record as one line.
func (r *Recorder) run() {
	defer close(r.done)
	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.closed {
			r.cond.Wait()
		}
		batch := r.queue
		r.queue = nil
		closed := r.closed
		r.mu.Unlock()

		for _, record := range batch {
			line := record.LogLine()
			if _, err := r.out.Write([]byte(line + "\n")); err != nil {
				slog.Error("failed to write transaction log",
					slog.String("trade", record.ID), slog.Any("error", err))
			}
			if r.console {
				slog.Info("trade recorded", slog.String("line", line))
			}
		}
		if closed && len(batch) == 0 {
			return
		}
		if closed {
			// One more pass in case producers raced the close.
			r.mu.Lock()
			empty := len(r.queue) == 0
			r.mu.Unlock()
			if empty {
				return
			}
		}
	}
}

// Close stops intake, waits for the queue to drain, and closes the
// underlying file. Idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return nil
	}
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()

	<-r.done
	return r.out.Close()
}
