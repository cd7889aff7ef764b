package voltpipe

import "sync"

// errorMerger allows to wait for errors of multiple stages.
type errorMerger struct {
	wg        sync.WaitGroup
	errorChan chan error
}

// add error channels from all stages into one.
func (m *errorMerger) add(errcList ...<-chan error) {
	m.wg.Add(len(errcList))
	for _, ec := range errcList {
		go m.listen(ec)
	}
}

// listen blocks until error is received or channel is closed.
func (m *errorMerger) listen(ec <-chan error) {
	for err := range ec {
		m.errorChan <- err
	}
	m.wg.Done()
}

// wait waits for all underlying error channels to be closed and then
// closes the output error channel.
func (m *errorMerger) wait() {
	m.wg.Wait()
	close(m.errorChan)
}

// drain waits until all stages stop and returns errors received after
// the first one.
func (m *errorMerger) drain() []error {
	var errs []error
	for err := range m.errorChan {
		errs = append(errs, err)
	}
	return errs
}
