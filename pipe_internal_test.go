package voltpipe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecErrors(t *testing.T) {
	errA, errB := errors.New("a"), errors.New("b")
	assert.Nil(t, execErrors(nil).ret())

	err := execErrors{errA, errB}.ret()
	assert.Equal(t, "a,b", err.Error())
	assert.True(t, errors.Is(err, errA))
	assert.True(t, errors.Is(err, errB))
	assert.False(t, errors.Is(err, errors.New("a")))
}

func TestErrorMerger(t *testing.T) {
	errA, errB := errors.New("a"), errors.New("b")
	chans := make([]chan error, 3)
	m := errorMerger{errorChan: make(chan error, len(chans))}
	for i := range chans {
		chans[i] = make(chan error, 1)
		m.add(chans[i])
	}
	go m.wait()

	chans[0] <- errA
	close(chans[0])
	assert.Equal(t, errA, <-m.errorChan)

	chans[1] <- errB
	close(chans[1])
	close(chans[2])
	assert.Equal(t, []error{errB}, m.drain())
}

func TestNewUID(t *testing.T) {
	assert.NotEqual(t, newUID(), newUID())
	assert.Len(t, newUID(), 20)
}
