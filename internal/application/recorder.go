package application

import (
	"errors"
	"fmt"
	"sync"
)

var ErrMicrophoneDenied = errors.New("microphone access denied")

// Recorder models the single process-wide microphone. Only one holder may
// record at a time; chunks accumulate until Release returns the finished clip.
type Recorder struct {
	mu        sync.Mutex
	available bool
	holder    string
	buf       []byte
}

func NewRecorder() *Recorder {
	return &Recorder{available: true}
}

// SetAvailable toggles whether microphone access is granted at all.
func (r *Recorder) SetAvailable(available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available = available
}

func (r *Recorder) Acquire(holder string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.available {
		return ErrMicrophoneDenied
	}
	if r.holder != "" {
		if r.holder == holder {
			return errors.New("already recording")
		}
		return fmt.Errorf("microphone is in use by %s", r.holder)
	}
	r.holder = holder
	r.buf = nil
	return nil
}

func (r *Recorder) Append(holder string, chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holder != holder {
		return errors.New("not recording")
	}
	r.buf = append(r.buf, chunk...)
	return nil
}

// Release stops the recording and returns the accumulated clip.
func (r *Recorder) Release(holder string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holder != holder {
		return nil, errors.New("not recording")
	}
	data := r.buf
	r.holder = ""
	r.buf = nil
	return data, nil
}

// Abort drops the recording without returning data. A no-op when holder does
// not own the microphone.
func (r *Recorder) Abort(holder string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holder != holder {
		return
	}
	r.holder = ""
	r.buf = nil
}

func (r *Recorder) Holder() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.holder
}
