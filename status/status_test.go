package status_test

import (
	"expvar"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"pipelined.dev/voltpipe/status"
)

func TestUpdate(t *testing.T) {
	var r status.Registry
	r.Update(func(b status.Buffer) {
		b.PutString("STRPSTAT", "waiting")
		b.PutInt("STRPBKIN", 3)
		b.PutUint("STRPMCNT", 48)
	})
	v, ok := r.Get("STRPSTAT")
	assert.True(t, ok)
	assert.Equal(t, "waiting", v)
	v, _ = r.Get("STRPBKIN")
	assert.Equal(t, "3", v)
	_, ok = r.Get("FAKESTAT")
	assert.False(t, ok)
	assert.Equal(t, []string{"STRPBKIN", "STRPMCNT", "STRPSTAT"}, r.Keys())

	s := r.Snapshot()
	s["STRPSTAT"] = "changed"
	v, _ = r.Get("STRPSTAT")
	assert.Equal(t, "waiting", v)
}

func TestNil(t *testing.T) {
	var r *status.Registry
	assert.NotPanics(t, func() {
		r.Update(func(b status.Buffer) { b.PutString("k", "v") })
	})
	assert.NotPanics(t, func() {
		_, ok := r.Get("k")
		assert.False(t, ok)
		assert.Empty(t, r.Snapshot())
		assert.Empty(t, r.Keys())
	})
}

func TestConcurrent(t *testing.T) {
	var (
		r  status.Registry
		wg sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Update(func(b status.Buffer) {
					b.PutInt(fmt.Sprintf("key%d", i), int64(j))
				})
				_ = r.Snapshot()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, len(r.Keys()))
	v, _ := r.Get("key7")
	assert.Equal(t, "99", v)
}

func TestPublish(t *testing.T) {
	var r status.Registry
	r.Update(func(b status.Buffer) { b.PutString("WRITESTAT", "writing") })
	r.Publish("voltpipe.status.test")
	assert.Equal(t, `{"WRITESTAT":"writing"}`, expvar.Get("voltpipe.status.test").String())
}
