// Package metric provides per stage counters of the pipe.
package metric

import (
	"encoding/json"
	"expvar"
	"sync"
	"sync/atomic"
	"time"
)

// Metric contains stage's Meters.
type Metric struct {
	m      sync.Mutex
	meters map[string]map[string]*atomic.Value
}

// Measure is a snapshot of full metric with all counters.
type Measure map[string]map[string]interface{}

const (
	// BlockCounter measures number of processed blocks.
	BlockCounter = "Blocks"
	// ByteCounter measures number of payload bytes.
	ByteCounter = "Bytes"
	// BlockedCounter measures number of wait timeouts.
	BlockedCounter = "Blocked"
	// StartCounter fixes when stage started.
	StartCounter = "Start"
	// LatencyCounter measures latency between processed blocks.
	LatencyCounter = "Latency"
	// ElapsedCounter fixes time since stage started.
	ElapsedCounter = "Elapsed"
)

// stageCounters is a structure for metrics initialization.
var stageCounters = []string{BlockCounter, ByteCounter, BlockedCounter, StartCounter, LatencyCounter, ElapsedCounter}

// addCounters to the metric. Metric used to generate measures for all counters.
//
// If id matches with existing counters, those will be replaced with the new one.
// If no match found, new counters is added and returned.
func (m *Metric) addCounters(id string, counters ...string) map[string]*atomic.Value {
	m.m.Lock()
	defer m.m.Unlock()

	if m.meters == nil {
		m.meters = make(map[string]map[string]*atomic.Value)
	} else {
		delete(m.meters, id)
	}

	meter := make(map[string]*atomic.Value)
	for _, counter := range counters {
		meter[counter] = &atomic.Value{}
	}
	m.meters[id] = meter
	return meter
}

// Measure returns Metric's measures.
func (m *Metric) Measure() Measure {
	if m == nil {
		return nil
	}
	r := make(map[string]map[string]interface{})
	m.m.Lock()
	defer m.m.Unlock()

	for meterName, meter := range m.meters {
		meterValues := make(map[string]interface{})
		for counterName, counter := range meter {
			meterValues[counterName] = counter.Load()
		}
		r[meterName] = meterValues
	}
	return r
}

// Publish exposes measures as expvar variable with provided name.
func (m *Metric) Publish(name string) {
	expvar.Publish(name, expvar.Func(func() interface{} {
		return m.Measure()
	}))
}

// String returns measures as JSON.
func (m Measure) String() string {
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Meter creates new meter with stage counters. Nil metric returns nil
// meter, all methods of nil meter are no-op.
func (m *Metric) Meter(stageID string) *Meter {
	if m == nil {
		return nil
	}
	meter := Meter{
		startedAt:   time.Now(),
		processedAt: time.Now(),
	}
	meter.counters = m.addCounters(stageID, stageCounters...)
	store(meter.counters, StartCounter, meter.startedAt)
	store(meter.counters, BlockCounter, int64(0))
	store(meter.counters, ByteCounter, int64(0))
	store(meter.counters, BlockedCounter, int64(0))
	return &meter
}

// Meter contains all stage's counters. Meter is used by one goroutine.
type Meter struct {
	counters    map[string]*atomic.Value
	startedAt   time.Time     // StartCounter
	blocks      int64         // BlockCounter
	bytes       int64         // ByteCounter
	blocked     int64         // BlockedCounter
	latency     time.Duration // LatencyCounter
	processedAt time.Time
	elapsed     time.Duration // ElapsedCounter
}

// Block captures metrics after block is processed.
func (m *Meter) Block(size int) *Meter {
	if m == nil {
		return nil
	}
	m.blocks++
	m.bytes += int64(size)
	m.latency = time.Since(m.processedAt)
	m.processedAt = time.Now()
	m.elapsed = time.Since(m.startedAt)

	store(m.counters, BlockCounter, m.blocks)
	store(m.counters, ByteCounter, m.bytes)
	store(m.counters, LatencyCounter, m.latency)
	store(m.counters, ElapsedCounter, m.elapsed)
	return m
}

// Blocked captures wait timeout.
func (m *Meter) Blocked() *Meter {
	if m == nil {
		return nil
	}
	m.blocked++
	store(m.counters, BlockedCounter, m.blocked)
	return m
}

// store new counter value.
func store(m map[string]*atomic.Value, c string, v interface{}) {
	if counter, ok := m[c]; ok {
		counter.Store(v)
	}
}
