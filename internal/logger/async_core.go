package logger

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap/zapcore"
)

type logEntry struct {
	core   zapcore.Core
	entry  zapcore.Entry
	fields []zapcore.Field
}

// asyncQueue is shared by an AsyncCore and every core derived from it with With.
type asyncQueue struct {
	entries       chan logEntry
	flushReq      chan chan struct{}
	quit          chan struct{}
	closeOnce     sync.Once
	wg            sync.WaitGroup
	batchSize     int
	flushInterval time.Duration
	dropped       atomic.Uint64
	sink          zapcore.Core
}

// AsyncCore wraps a zapcore.Core and writes entries from a background goroutine in batches.
// Entries are dropped, and counted, when the buffer is full.
type AsyncCore struct {
	core zapcore.Core
	q    *asyncQueue
}

// NewAsyncCore starts the writer goroutine.
// bufferSize: size of the buffered channel
// batchSize: number of log entries per batch
// flushInterval: maximum time to wait before flushing a batch
func NewAsyncCore(core zapcore.Core, bufferSize, batchSize int, flushInterval time.Duration) *AsyncCore {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 || batchSize > bufferSize {
		batchSize = bufferSize / 10
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	q := &asyncQueue{
		entries:       make(chan logEntry, bufferSize),
		flushReq:      make(chan chan struct{}),
		quit:          make(chan struct{}),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		sink:          core,
	}

	q.wg.Add(2)
	go q.processEntries()
	go q.monitorDroppedLogs()

	return &AsyncCore{core: core, q: q}
}

func (q *asyncQueue) processEntries() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()

	batch := make([]logEntry, 0, q.batchSize)
	write := func() {
		for _, e := range batch {
			if err := e.core.Write(e.entry, e.fields); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to write log entry: %v\n", err)
			}
		}
		batch = batch[:0]
	}
	drain := func() {
		for {
			select {
			case e := <-q.entries:
				batch = append(batch, e)
				if len(batch) >= q.batchSize {
					write()
				}
			default:
				write()
				return
			}
		}
	}

	for {
		select {
		case e := <-q.entries:
			batch = append(batch, e)
			if len(batch) >= q.batchSize {
				write()
			}
		case <-ticker.C:
			write()
		case done := <-q.flushReq:
			drain()
			close(done)
		case <-q.quit:
			drain()
			return
		}
	}
}

func (q *asyncQueue) monitorDroppedLogs() {
	defer q.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.reportDropped()
		case <-q.quit:
			q.reportDropped()
			return
		}
	}
}

func (q *asyncQueue) reportDropped() {
	if dropped := q.dropped.Swap(0); dropped > 0 {
		_ = q.sink.Write(zapcore.Entry{
			Level:      zapcore.WarnLevel,
			Message:    fmt.Sprintf("Dropped %d log entries due to full buffer", dropped),
			Time:       time.Now(),
			LoggerName: "logger.async",
		}, nil)
	}
}

func (ac *AsyncCore) Enabled(level zapcore.Level) bool {
	return ac.core.Enabled(level)
}

func (ac *AsyncCore) With(fields []zapcore.Field) zapcore.Core {
	return &AsyncCore{core: ac.core.With(fields), q: ac.q}
}

func (ac *AsyncCore) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if ac.Enabled(entry.Level) {
		return checkedEntry.AddCore(entry, ac)
	}
	return checkedEntry
}

// Write enqueues the entry. Entries at error level or above are written synchronously so they
// are never lost to a full buffer.
func (ac *AsyncCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if entry.Level >= zapcore.ErrorLevel {
		return ac.core.Write(entry, fields)
	}
	select {
	case ac.q.entries <- logEntry{core: ac.core, entry: entry, fields: fields}:
	default:
		ac.q.dropped.Add(1)
	}
	return nil
}

// Sync waits until every queued entry has been written, then syncs the underlying core.
func (ac *AsyncCore) Sync() error {
	done := make(chan struct{})
	select {
	case ac.q.flushReq <- done:
		<-done
	case <-ac.q.quit:
	}
	return ac.core.Sync()
}

// Close flushes the queue and stops the background goroutines. It is safe to call more than once.
func (ac *AsyncCore) Close() error {
	ac.q.closeOnce.Do(func() {
		close(ac.q.quit)
	})
	ac.q.wg.Wait()
	return ac.q.sink.Sync()
}
