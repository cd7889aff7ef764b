package metric_test

import (
	"expvar"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pipelined.dev/voltpipe/metric"
)

func TestMeter(t *testing.T) {
	var tests = []struct {
		*metric.Metric
		routines int
		blocks   int
		size     int
		expected int64
	}{
		{
			Metric:   &metric.Metric{},
			routines: 2,
			blocks:   10,
			size:     100,
			expected: 10 * 100,
		},
		{
			Metric:   &metric.Metric{},
			routines: 10,
			blocks:   5,
			size:     100,
			expected: 5 * 100,
		},
		{
			routines: 100,
			blocks:   5,
			size:     100,
			expected: 0,
		},
	}

	testFn := func(m *metric.Meter, wg *sync.WaitGroup, blocks, size int) {
		for i := 0; i < blocks; i++ {
			m.Blocked().Block(size)
		}
		wg.Done()
	}

	for _, c := range tests {
		m := c.Metric
		wg := &sync.WaitGroup{}
		wg.Add(c.routines)
		for i := 0; i < c.routines; i++ {
			meter := m.Meter(fmt.Sprintf("test %d", i))
			go testFn(meter, wg, c.blocks, c.size)
		}
		// check if no data race.
		_ = m.Measure()
		wg.Wait()
		measure := m.Measure()
		if m == nil {
			assert.Nil(t, measure)
			continue
		}
		assert.Equal(t, c.routines, len(measure))
		for _, meters := range measure {
			assert.Equal(t, c.expected, meters[metric.ByteCounter])
			assert.Equal(t, int64(c.blocks), meters[metric.BlockCounter])
			assert.Equal(t, int64(c.blocks), meters[metric.BlockedCounter])
			assert.IsType(t, time.Duration(0), meters[metric.ElapsedCounter])
		}
	}
}

func TestMeterReplace(t *testing.T) {
	m := &metric.Metric{}
	m.Meter("strip").Block(10)
	m.Meter("strip")
	measure := m.Measure()
	assert.Equal(t, int64(0), measure["strip"][metric.BlockCounter])
	assert.Nil(t, measure["strip"][metric.LatencyCounter])
}

func TestPublish(t *testing.T) {
	m := &metric.Metric{}
	m.Meter("writer").Block(42)
	m.Publish("voltpipe.metric.test")
	v := expvar.Get("voltpipe.metric.test")
	assert.NotNil(t, v)
	assert.True(t, strings.Contains(v.String(), `"Bytes":42`))
}
