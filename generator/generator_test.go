package generator_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pipelined.dev/voltpipe"
	"pipelined.dev/voltpipe/config"
	"pipelined.dev/voltpipe/databuf"
	"pipelined.dev/voltpipe/generator"
	"pipelined.dev/voltpipe/layout"
	"pipelined.dev/voltpipe/metric"
	"pipelined.dev/voltpipe/status"
)

const nBlock = 4

var geom = layout.Geometry{Antennas: 3, Pols: 2, Chans: 4, StripChans: 2, TimePerBlock: 4, TimePerPacket: 2}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func rings(t *testing.T) *voltpipe.Rings {
	t.Helper()
	r, err := voltpipe.CreateRings(config.RingConfig{
		Dir:      t.TempDir(),
		InputKey: "input",
		StripKey: "strip",
		Blocks:   nBlock,
		Timeout:  5 * time.Millisecond,
	}, geom)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Destroy() })
	return r
}

func TestPattern(t *testing.T) {
	r := rings(t)
	g := generator.New(r.Input, databuf.Blocking, generator.Config{})
	ctx := context.Background()
	require.NoError(t, g.Start(ctx))
	require.NoError(t, g.Execute(ctx))

	st, err := r.Input.BlockStatus(0)
	require.NoError(t, err)
	assert.Equal(t, databuf.Filled, st)
	b := r.Input.Block(0)
	assert.Equal(t, databuf.Header{GoodData: true, Mcnt: 0}, b.Header())

	l := r.Input.Layout()
	for m := 0; m < geom.Mcnts(); m++ {
		for a := 0; a < geom.Antennas; a++ {
			for c := 0; c < geom.Chans; c++ {
				for ts := 0; ts < geom.TimePerPacket; ts++ {
					for p := 0; p < geom.Pols; p++ {
						assert.Equal(t, generator.Pattern(a, p), b.Data[l.Offset(m, a, p, c, ts)])
					}
				}
			}
		}
	}
	assert.NoError(t, g.Flush(ctx))
}

func TestPatternWraps(t *testing.T) {
	assert.Equal(t, byte(0), generator.Pattern(0, 0))
	assert.Equal(t, byte(5), generator.Pattern(2, 1))
	// values wrap around for large arrays.
	assert.Equal(t, byte(127), generator.Pattern(191, 1))
	assert.Equal(t, byte(0), generator.Pattern(128, 0))
}

func TestMcntStride(t *testing.T) {
	r := rings(t)
	g := generator.New(r.Input, databuf.Spin, generator.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, g.Start(ctx))

	for i := 0; i < nBlock; i++ {
		require.NoError(t, g.Execute(ctx))
		assert.Equal(t, uint64(i*geom.Mcnts()), r.Input.Block(i).Header().Mcnt)
	}
	assert.Equal(t, nBlock, r.Input.TotalStatus())

	// consumer frees the first block, generator wraps around.
	require.NoError(t, r.Input.SetFree(0))
	require.NoError(t, g.Execute(ctx))
	assert.Equal(t, uint64(nBlock*geom.Mcnts()), r.Input.Block(0).Header().Mcnt)

	// ring is full, generator is blocked until cancelled.
	errc := make(chan error, 1)
	go func() { errc <- g.Execute(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.Equal(t, io.EOF, <-errc)
	st, _ := r.Input.BlockStatus(1)
	assert.Equal(t, databuf.Filled, st)
}

func TestLimit(t *testing.T) {
	r := rings(t)
	reg := &status.Registry{}
	m := &metric.Metric{}
	p, err := voltpipe.New(r, voltpipe.Registry{
		"generator": generator.Allocator(generator.Config{Limit: 3, Interval: time.Millisecond}),
	}, []string{"generator"}, voltpipe.WithStatus(reg), voltpipe.WithMetric(m))
	require.NoError(t, err)

	assert.NoError(t, p.Run(context.Background()).Wait())
	assert.Equal(t, 3, r.Input.TotalStatus())
	assert.Equal(t, uint64(0b0111), r.Input.TotalMask())
	v, _ := reg.Get(generator.StatusKey)
	assert.Equal(t, "done", v)
	v, _ = reg.Get(generator.McntKey)
	assert.Equal(t, "4", v)
	assert.Equal(t, int64(3), m.Measure()["generator"][metric.BlockCounter])
}

func TestBlockedStatus(t *testing.T) {
	r := rings(t)
	reg := &status.Registry{}
	p, err := voltpipe.New(r, voltpipe.Registry{
		"generator": generator.Allocator(generator.Config{}),
	}, []string{"generator"}, voltpipe.WithStatus(reg))
	require.NoError(t, err)

	runner := p.Run(context.Background())
	assert.Eventually(t, func() bool {
		v, _ := reg.Get(generator.StatusKey)
		return v == "blocked" && r.Input.TotalStatus() == nBlock
	}, time.Second, time.Millisecond)
	runner.Stop()
	assert.NoError(t, runner.Wait())
}

func TestAllocatorErrors(t *testing.T) {
	_, err := voltpipe.New(nil, voltpipe.Registry{
		"generator": generator.Allocator(generator.Config{}),
	}, []string{"generator"})
	assert.Error(t, err)

	r := rings(t)
	_, err = voltpipe.New(r, voltpipe.Registry{
		"generator": generator.Allocator(generator.Config{Limit: -1}),
	}, []string{"generator"})
	assert.Error(t, err)
}
