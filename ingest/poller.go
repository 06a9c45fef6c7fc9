package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	"seclog/core"
	"seclog/metrics"
	"seclog/util/goroutine"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultPollInterval is the time between poll cycles
	DefaultPollInterval = 3 * time.Second
	// DefaultBatchBuffer is the capacity of the batch channel
	DefaultBatchBuffer = 16
)

// Bookmarks holds the last record number observed per source. A source with
// no entry has not been observed yet.
type Bookmarks map[core.Logfile]uint64

// Clone returns an independent copy.
func (b Bookmarks) Clone() Bookmarks {
	out := make(Bookmarks, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Batch is one cycle's new records across all sources.
type Batch struct {
	// Records are sorted newest first and exclude normalization failures
	Records []core.LogRecord
	// Failures are records that could not be normalized
	Failures []core.LogRecord
	// Counts is the number of new native records per source
	Counts map[core.Logfile]int
	// Errors are the source failures seen in the cycle
	Errors []*SourceError
}

// Empty reports whether the batch carries no new records.
func (b Batch) Empty() bool {
	return len(b.Records) == 0 && len(b.Failures) == 0
}

// sourceResult is the outcome of polling one source once.
type sourceResult struct {
	logfile  core.Logfile
	records  []core.LogRecord
	failures []core.LogRecord
	native   int
	// lastSeen is the bookmark to use next cycle; it is only meaningful when
	// observed is set
	lastSeen uint64
	observed bool
	err      *SourceError
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval sets the cycle interval.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithBuffer sets the batch channel capacity.
func WithBuffer(n int) PollerOption {
	return func(p *Poller) {
		if n >= 0 {
			p.buffer = n
		}
	}
}

// WithReplayExisting makes the first observation of a source read its
// retained history instead of starting at the current total.
func WithReplayExisting(replay bool) PollerOption {
	return func(p *Poller) { p.replayExisting = replay }
}

// WithSourceKind selects the normalizer variant for native records.
func WithSourceKind(kind SourceKind) PollerOption {
	return func(p *Poller) { p.kind = kind }
}

// Poller watches a set of event logs and emits batches of newly appended,
// normalized records on a channel. Each source is read by its own worker so a
// hung read only stalls that source.
type Poller struct {
	sources        []EventLog
	registry       *Registry
	kind           SourceKind
	interval       time.Duration
	buffer         int
	replayExisting bool
	logger         *zap.SugaredLogger

	out chan Batch

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	bookmarks Bookmarks

	throttleMu sync.Mutex
	throttles  map[core.Logfile]*rate.Sometimes
}

// NewPoller creates a stopped poller over sources.
func NewPoller(sources []EventLog, registry *Registry, logger *zap.SugaredLogger, opts ...PollerOption) *Poller {
	p := &Poller{
		sources:   sources,
		registry:  registry,
		kind:      KindWindows,
		interval:  DefaultPollInterval,
		buffer:    DefaultBatchBuffer,
		logger:    logger,
		bookmarks: make(Bookmarks),
		throttles: make(map[core.Logfile]*rate.Sometimes),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.out = make(chan Batch, p.buffer)
	return p
}

// Batches returns the channel batches are delivered on. It is never closed;
// consumers select on their own shutdown signal.
func (p *Poller) Batches() <-chan Batch {
	return p.out
}

// Bookmarks returns a snapshot of the per-source bookmarks.
func (p *Poller) Bookmarks() Bookmarks {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bookmarks.Clone()
}

// Running reports whether the polling loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start launches the polling loop. Calling Start on a running poller is a
// no-op. The loop ends on Stop or when ctx is done.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	stopCh, doneCh := p.stopCh, p.doneCh
	go func() {
		defer close(doneCh)
		defer goroutine.Recover("event-log-poller", p.logger)
		p.run(ctx, stopCh)

		// ctx ended the loop: clear the flag unless a newer Start owns it
		p.mu.Lock()
		if p.stopCh == stopCh && p.running {
			p.running = false
			p.logger.Info("Event log poller stopped: context done")
		}
		p.mu.Unlock()
	}()
	p.logger.Infow("Event log poller started",
		"sources", len(p.sources),
		"interval", p.interval,
		"replay_existing", p.replayExisting)
}

// Stop prevents the next cycle from starting and waits for the loop to
// exit. In-flight reads are not interrupted; their workers finish in the
// background. Calling Stop on a stopped poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	doneCh := p.doneCh
	p.mu.Unlock()

	<-doneCh
	p.logger.Info("Event log poller stopped")
}

type pollRequest struct {
	lastSeen uint64
	known    bool
}

type sourceWorker struct {
	src  EventLog
	reqs chan pollRequest
	busy bool
}

func (p *Poller) run(ctx context.Context, stopCh chan struct{}) {
	done := make(chan struct{})
	defer close(done)

	results := make(chan sourceResult, len(p.sources))
	workers := make(map[core.Logfile]*sourceWorker, len(p.sources))
	for _, src := range p.sources {
		w := &sourceWorker{src: src, reqs: make(chan pollRequest, 1)}
		workers[src.Name()] = w
		go p.work(ctx, w, results, done)
	}

	for {
		batch := p.cycle(ctx, workers, results)
		if !batch.Empty() {
			select {
			case p.out <- batch:
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// work serves poll requests for one source until the loop exits.
func (p *Poller) work(ctx context.Context, w *sourceWorker, results chan<- sourceResult, done <-chan struct{}) {
	defer goroutine.Recover("event-log-worker", p.logger)
	for {
		select {
		case <-done:
			return
		case req := <-w.reqs:
			res := p.pollSource(ctx, w.src, req.lastSeen, req.known)
			select {
			case results <- res:
			case <-done:
				return
			}
		}
	}
}

// cycle dispatches a poll to every idle worker and collects results for at
// most one interval. Results from workers that were still busy with an
// earlier cycle are merged into this one.
func (p *Poller) cycle(ctx context.Context, workers map[core.Logfile]*sourceWorker, results <-chan sourceResult) Batch {
	metrics.PollCycles.Inc()

	bookmarks := p.Bookmarks()
	outstanding := 0
	for name, w := range workers {
		if w.busy {
			outstanding++
			continue
		}
		lastSeen, known := bookmarks[name]
		w.reqs <- pollRequest{lastSeen: lastSeen, known: known}
		w.busy = true
		outstanding++
	}

	var collected []sourceResult
	deadline := time.NewTimer(p.interval)
	defer deadline.Stop()
collect:
	for outstanding > 0 {
		select {
		case res := <-results:
			if w, ok := workers[res.logfile]; ok {
				w.busy = false
			}
			outstanding--
			collected = append(collected, res)
		case <-deadline.C:
			break collect
		case <-ctx.Done():
			break collect
		}
	}

	for name, w := range workers {
		if w.busy {
			p.logger.Debugw("Source read still in progress", "logfile", name)
		}
	}

	p.mu.Lock()
	for _, res := range collected {
		if res.observed {
			p.bookmarks[res.logfile] = res.lastSeen
		}
	}
	p.mu.Unlock()

	return p.merge(collected)
}

// PollOnce runs one sequential cycle over every source starting from
// bookmarks and returns the batch with the updated bookmarks. It does not
// touch the poller's own bookmarks.
func (p *Poller) PollOnce(ctx context.Context, bookmarks Bookmarks) (Batch, Bookmarks) {
	next := bookmarks.Clone()
	collected := make([]sourceResult, 0, len(p.sources))
	for _, src := range p.sources {
		lastSeen, known := bookmarks[src.Name()]
		res := p.pollSource(ctx, src, lastSeen, known)
		if res.observed {
			next[res.logfile] = res.lastSeen
		}
		collected = append(collected, res)
	}
	return p.merge(collected), next
}

// pollSource reads the records appended to src since lastSeen.
//
// The first observation of a source (known == false) takes a baseline at the
// current total unless replay is enabled. Reads start at
// max(lastSeen, oldest) so a bookmark pointing at records the log has already
// overwritten never produces an invalid seek. A start of 0 means a full
// sequential read. After a validated position the bookmark advances to the
// current total regardless of how many records were processed.
func (p *Poller) pollSource(ctx context.Context, src EventLog, lastSeen uint64, known bool) sourceResult {
	name := src.Name()
	// an unknown source stays unobserved until Info succeeds so the
	// baseline is taken once it becomes readable
	res := sourceResult{logfile: name, lastSeen: lastSeen, observed: known}

	info, err := src.Info(ctx)
	if err != nil {
		res.err = p.sourceFailed(name, "info", err)
		return res
	}
	res.observed = true

	if !known {
		if !p.replayExisting {
			res.lastSeen = info.Total
			return res
		}
		lastSeen = 0
	}

	if info.Total < lastSeen {
		p.logger.Infow("Event log cleared, rebasing bookmark",
			"logfile", name, "last_seen", lastSeen, "total", info.Total)
		res.lastSeen = 0
		return res
	}
	if info.Total == lastSeen {
		res.lastSeen = lastSeen
		return res
	}

	start := lastSeen
	if info.Oldest > start {
		start = info.Oldest
	}

	var native []NativeRecord
	if start == 0 {
		native, err = src.ReadAll(ctx)
	} else {
		native, err = src.ReadFrom(ctx, start)
	}
	res.lastSeen = info.Total
	if err != nil {
		res.err = p.sourceFailed(name, "read", err)
		return res
	}

	for _, n := range native {
		if n.RecordNumber <= lastSeen {
			continue
		}
		res.native++
		rec := p.registry.Normalize(p.kind, n)
		if rec.Failed() {
			metrics.NormalizationErrors.WithLabelValues(string(p.kind)).Inc()
			res.failures = append(res.failures, rec)
			continue
		}
		res.records = append(res.records, rec)
	}
	return res
}

func (p *Poller) sourceFailed(name core.Logfile, op string, err error) *SourceError {
	se := sourceError(name, op, err)
	metrics.SourceErrors.WithLabelValues(string(name)).Inc()
	p.throttle(name).Do(func() {
		p.logger.Warnw("Event log source error", "logfile", name, "op", op, "error", err)
	})
	return se
}

// throttle limits repeated error logs for a source to one per minute.
func (p *Poller) throttle(name core.Logfile) *rate.Sometimes {
	p.throttleMu.Lock()
	defer p.throttleMu.Unlock()
	s, ok := p.throttles[name]
	if !ok {
		s = &rate.Sometimes{First: 1, Interval: time.Minute}
		p.throttles[name] = s
	}
	return s
}

func (p *Poller) merge(results []sourceResult) Batch {
	batch := Batch{Counts: make(map[core.Logfile]int)}
	for _, res := range results {
		if res.err != nil {
			batch.Errors = append(batch.Errors, res.err)
		}
		if res.native == 0 {
			continue
		}
		batch.Counts[res.logfile] = res.native
		batch.Records = append(batch.Records, res.records...)
		batch.Failures = append(batch.Failures, res.failures...)
	}
	sortNewestFirst(batch.Records)
	return batch
}

func sortNewestFirst(records []core.LogRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
}
