package mock_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/voltpipe/databuf"
	"pipelined.dev/voltpipe/internal/mock"
	"pipelined.dev/voltpipe/layout"
)

var errTest = errors.New("test error")

func ring(t *testing.T) *databuf.Ring[layout.Strip] {
	t.Helper()
	l := layout.NewStrip(layout.Geometry{Antennas: 1, Pols: 2, Chans: 2, StripChans: 1, TimePerBlock: 2, TimePerPacket: 1})
	r, err := databuf.Create(t.TempDir(), "ring", 2, l.Size())
	require.NoError(t, err)
	r.Timeout = time.Millisecond
	t.Cleanup(func() { _ = r.Destroy() })
	ring, err := databuf.New(r, l)
	require.NoError(t, err)
	return ring
}

func TestFeederDrain(t *testing.T) {
	r := ring(t)
	feeder := &mock.Feeder[layout.Strip]{Ring: r, Limit: 5, Value: 7}
	drain := &mock.Drain[layout.Strip]{Ring: r}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, feeder.Execute(ctx))
		require.NoError(t, drain.Execute(ctx))
	}
	assert.Equal(t, io.EOF, feeder.Execute(ctx))
	assert.Equal(t, 5, feeder.Blocks())
	assert.Equal(t, 5*r.BlockSize(), drain.Bytes())
	require.Equal(t, 5, len(drain.Payload()))
	assert.Equal(t, []byte{7, 7, 7, 7}, drain.Payload()[4])
	assert.Equal(t, databuf.Header{GoodData: true, Mcnt: 4}, drain.Headers()[4])
}

func TestDrainCancel(t *testing.T) {
	drain := &mock.Drain[layout.Strip]{Ring: ring(t)}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Equal(t, io.EOF, drain.Execute(ctx))
	assert.Equal(t, 0, drain.Blocks())
}

func TestErrors(t *testing.T) {
	feeder := &mock.Feeder[layout.Strip]{ErrorOnCall: errTest, Hooks: mock.Hooks{ErrorOnFlush: errTest}}
	ctx := context.Background()
	assert.NoError(t, feeder.Start(ctx))
	assert.True(t, feeder.Started())
	assert.Equal(t, errTest, feeder.Execute(ctx))
	assert.Equal(t, errTest, feeder.Flush(ctx))
	assert.True(t, feeder.Flushed())
}
