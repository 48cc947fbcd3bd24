package helpers

import (
	"sync"
)

// Future is a single-assignment result slot for request/response
// correlation. Completed/Cancelled channels are exported so callers can
// wait in their own select together with a context deadline.
type Future struct {
	mutex     sync.Mutex
	result    interface{}
	completed chan struct{}
	cancelled chan struct{}
	done      bool
}

func NewFuture() *Future {
	return &Future{
		completed: make(chan struct{}),
		cancelled: make(chan struct{}),
	}
}

func (f *Future) Completed() <-chan struct{} { return f.completed }
func (f *Future) Cancelled() <-chan struct{} { return f.cancelled }

// Complete fulfills the future at most once. Later calls are ignored
// and return false.
func (f *Future) Complete(result interface{}) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.done {
		return false
	}
	f.result = result
	f.done = true
	close(f.completed)
	return true
}

func (f *Future) Cancel(result interface{}) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.done {
		return false
	}
	f.result = result
	f.done = true
	close(f.cancelled)
	return true
}

func (f *Future) Result() interface{} {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.result
}
