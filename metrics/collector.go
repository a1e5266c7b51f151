package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// CollectorConfig configures a Collector's buffering and collection
// cadence.
type CollectorConfig struct {
	// BufferCapacity bounds each per-metric ring buffer, and the per-
	// subscriber channel handed out by Stream.
	BufferCapacity int
	// CollectionInterval is how often buffered points are drained and
	// dispatched to exporters.
	CollectionInterval time.Duration
	// BatchSize bounds how many points are drained from a single buffer
	// per collection cycle.
	BatchSize int
	// WindowDurations are the widths of the time windows the collected
	// batch is also fed into for aggregation; every duration is tracked
	// simultaneously and independently per metric name.
	WindowDurations []time.Duration
	// WindowRetain bounds how many past windows are kept per (metric
	// name, duration) pair.
	WindowRetain int
}

func (c CollectorConfig) withDefaults() CollectorConfig {
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = 1024
	}
	if c.CollectionInterval <= 0 {
		c.CollectionInterval = 10 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if len(c.WindowDurations) == 0 {
		c.WindowDurations = []time.Duration{time.Minute}
	}
	if c.WindowRetain <= 0 {
		c.WindowRetain = 60
	}
	return c
}

// Statistics is an immutable snapshot of a Collector's lifetime counters.
type Statistics struct {
	Recorded       int64
	Exported       int64
	ExportFailures int64
}

type streamSubscriber struct {
	ch      chan DataPoint
	dropped int64
}

// Collector is a buffered producer→aggregator→exporter pipeline: Record
// writes go into per-metric ring buffers, update the live AtomicStorage
// view, and fan out to any Stream subscribers; a background loop
// periodically drains buffers, feeds the time-window aggregator, and fans
// the batch out to every registered Exporter.
type Collector struct {
	mu        sync.RWMutex
	buffers   map[string]*MetricBuffer
	storage   *AtomicStorage
	windows   *TimeWindowManager
	exporters map[string]Exporter
	cfg       CollectorConfig
	logger    zerolog.Logger

	recorded       int64
	exported       int64
	exportFailures int64

	subMu     sync.Mutex
	subs      map[int64]*streamSubscriber
	nextSubID int64

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started int32
}

// NewCollector builds a Collector. Call Start to begin the background
// collection loop.
func NewCollector(cfg CollectorConfig, logger zerolog.Logger) *Collector {
	cfg = cfg.withDefaults()
	return &Collector{
		buffers:   make(map[string]*MetricBuffer),
		storage:   NewAtomicStorage(),
		windows:   NewTimeWindowManager(cfg.WindowDurations, cfg.WindowRetain),
		exporters: make(map[string]Exporter),
		cfg:       cfg,
		logger:    logger,
		subs:      make(map[int64]*streamSubscriber),
	}
}

func (c *Collector) bufferFor(name string) *MetricBuffer {
	c.mu.RLock()
	b, ok := c.buffers[name]
	c.mu.RUnlock()
	if ok {
		return b
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.buffers[name]; ok {
		return b
	}
	b = NewMetricBuffer(c.cfg.BufferCapacity)
	c.buffers[name] = b
	return b
}

// Record buffers dp, updates the live atomic view (counters accumulate,
// gauges are overwritten), and fans it out to every active Stream
// subscriber.
func (c *Collector) Record(dp DataPoint) {
	atomic.AddInt64(&c.recorded, 1)
	switch dp.Kind {
	case KindCounter:
		c.storage.IncrCounter(dp.Name, int64(dp.Value))
	case KindGauge:
		c.storage.SetGauge(dp.Name, dp.Value)
	}
	c.bufferFor(dp.Name).Push(dp)
	c.publish(dp)
}

// RecordBatch records every point in dps.
func (c *Collector) RecordBatch(dps []DataPoint) {
	for _, dp := range dps {
		c.Record(dp)
	}
}

// Storage exposes the live atomic counter/gauge view, e.g. for a pull-model
// exporter that doesn't need the buffered batch path.
func (c *Collector) Storage() *AtomicStorage { return c.storage }

// Windows exposes the time-windowed aggregation view fed by each
// collection cycle, e.g. for a caller wanting per-window min/max/avg
// rather than the live running storage view.
func (c *Collector) Windows() *TimeWindowManager { return c.windows }

// Stream returns a channel delivering every DataPoint recorded from this
// call onward, and an unsubscribe function the caller must invoke when
// done listening (it closes the channel). Delivery never blocks Record: a
// subscriber that falls behind has samples dropped rather than backing up
// the collector, mirroring the admission package's drop-on-saturation
// strategies rather than an unbounded buffer that could exhaust memory.
func (c *Collector) Stream() (<-chan DataPoint, func()) {
	c.subMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	sub := &streamSubscriber{ch: make(chan DataPoint, c.cfg.BufferCapacity)}
	c.subs[id] = sub
	c.subMu.Unlock()

	unsubscribe := func() {
		c.subMu.Lock()
		if s, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(s.ch)
		}
		c.subMu.Unlock()
	}
	return sub.ch, unsubscribe
}

func (c *Collector) publish(dp DataPoint) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, sub := range c.subs {
		select {
		case sub.ch <- dp:
		default:
			atomic.AddInt64(&sub.dropped, 1)
		}
	}
}

// AddExporter registers exp, replacing any exporter already registered
// under the same name.
func (c *Collector) AddExporter(exp Exporter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exporters[exp.Name()] = exp
}

// RemoveExporter unregisters the exporter with the given name.
func (c *Collector) RemoveExporter(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.exporters, name)
}

// Start begins the background collection loop, a no-op if already started.
func (c *Collector) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.loop(loopCtx)
}

// Stop cancels the collection loop, waits for a final drain to complete,
// and awaits Flush/Shutdown on every registered exporter.
func (c *Collector) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.wg.Wait()
	c.shutdownExporters()
}

func (c *Collector) shutdownExporters() {
	c.mu.RLock()
	exporters := make([]Exporter, 0, len(c.exporters))
	for _, e := range c.exporters {
		exporters = append(exporters, e)
	}
	c.mu.RUnlock()

	ctx := context.Background()
	var g errgroup.Group
	for _, exp := range exporters {
		exp := exp
		g.Go(func() error {
			if err := exp.Flush(ctx); err != nil {
				c.logger.Warn().Str("exporter", exp.Name()).Err(err).Msg("exporter flush failed")
			}
			if err := exp.Shutdown(ctx); err != nil {
				c.logger.Warn().Str("exporter", exp.Name()).Err(err).Msg("exporter shutdown failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.CollectionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Collect(context.Background())
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect drains every metric's buffer, feeds the drained batch into the
// time-window aggregator, and dispatches it to all registered exporters.
// Aggregation happens unconditionally: it is never gated on whether any
// exporter is currently registered. Safe to call directly (e.g. on
// shutdown, or from a test) in addition to the background loop.
func (c *Collector) Collect(ctx context.Context) {
	c.mu.RLock()
	exporters := make([]Exporter, 0, len(c.exporters))
	for _, e := range c.exporters {
		exporters = append(exporters, e)
	}
	buffers := make([]*MetricBuffer, 0, len(c.buffers))
	for _, b := range c.buffers {
		buffers = append(buffers, b)
	}
	c.mu.RUnlock()

	var batch []DataPoint
	for _, b := range buffers {
		batch = append(batch, b.DrainBatch(c.cfg.BatchSize)...)
	}
	if len(batch) == 0 {
		return
	}

	for _, dp := range batch {
		c.windows.Add(dp.Name, dp.Kind, dp.Timestamp, dp.Value)
	}

	if len(exporters) == 0 {
		return
	}

	dispatch(ctx, exporters, batch, func(name string, err error) {
		atomic.AddInt64(&c.exportFailures, 1)
		c.logger.Warn().Str("exporter", name).Err(err).Msg("metric export failed")
	})
	atomic.AddInt64(&c.exported, int64(len(batch)))
}

// Statistics returns a snapshot of lifetime counters.
func (c *Collector) Statistics() Statistics {
	return Statistics{
		Recorded:       atomic.LoadInt64(&c.recorded),
		Exported:       atomic.LoadInt64(&c.exported),
		ExportFailures: atomic.LoadInt64(&c.exportFailures),
	}
}
