package stream

import (
	"fmt"
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/google/uuid"
)

// Progress is emitted after every chunk the server acknowledged.
type Progress struct {
	Uploaded int64
	Total    int64
	// Percentage is Uploaded/Total with two decimals, "1.00" once everything is stored.
	Percentage string
}

func newProgress(uploaded, total int64) Progress {
	return Progress{
		Uploaded:   uploaded,
		Total:      total,
		Percentage: formatRatio(uploaded, total),
	}
}

// formatRatio renders uploaded/total with two decimals, rounding ties up.
func formatRatio(uploaded, total int64) string {
	if total <= 0 {
		return "0.00"
	}
	hundredths := (uploaded*200 + total) / (2 * total)
	return fmt.Sprintf("%d.%02d", hundredths/100, hundredths%100)
}

// Listeners are attached to an Upload before its session starts, so none of its events are missed.
type Listeners struct {
	Progress func(Progress)
	Success  func(*MediaResult)
	Error    func(*Error)
}

// Status ...
type Status int

const (
	StatusInProgress Status = iota
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "in_progress"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Upload is the event channel of one upload session.
//
// Progress events may fire any number of times; success and error are terminal,
// exactly one of them fires. Listeners added later only receive later events,
// nothing is replayed. A failure is only observable through an error listener
// or Wait, so callers should use at least one of them.
type Upload struct {
	id     string
	logger log.Logger

	mu                sync.Mutex
	progressListeners []func(Progress)
	successListeners  []func(*MediaResult)
	errorListeners    []func(*Error)
	status            Status
	result            *MediaResult
	err               *Error

	done chan struct{}
}

func newUpload(logger log.Logger, listeners Listeners) *Upload {
	u := &Upload{
		id:     uuid.NewString(),
		logger: logger,
		done:   make(chan struct{}),
	}
	if listeners.Progress != nil {
		u.OnProgress(listeners.Progress)
	}
	if listeners.Success != nil {
		u.OnSuccess(listeners.Success)
	}
	if listeners.Error != nil {
		u.OnError(listeners.Error)
	}
	return u
}

// ID identifies the session in logs and analytics.
func (u *Upload) ID() string {
	return u.id
}

// OnProgress adds a progress listener.
func (u *Upload) OnProgress(fn func(Progress)) *Upload {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.progressListeners = append(u.progressListeners, fn)
	return u
}

// OnSuccess adds a listener for the verified media result.
func (u *Upload) OnSuccess(fn func(*MediaResult)) *Upload {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.successListeners = append(u.successListeners, fn)
	return u
}

// OnError adds a listener for the normalized failure.
func (u *Upload) OnError(fn func(*Error)) *Upload {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.errorListeners = append(u.errorListeners, fn)
	return u
}

// Status returns the current state of the session.
func (u *Upload) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

// Done is closed once the terminal event was delivered to every listener.
func (u *Upload) Done() <-chan struct{} {
	return u.done
}

// Wait blocks until the session finished and returns its outcome.
func (u *Upload) Wait() (*MediaResult, error) {
	<-u.done

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return nil, u.err
	}
	return u.result, nil
}

func (u *Upload) emitProgress(progress Progress) {
	u.mu.Lock()
	if u.status != StatusInProgress {
		u.mu.Unlock()
		return
	}
	listeners := append([]func(Progress){}, u.progressListeners...)
	u.mu.Unlock()

	for _, fn := range listeners {
		fn(progress)
	}
}

func (u *Upload) succeed(result *MediaResult) bool {
	u.mu.Lock()
	if u.status != StatusInProgress {
		u.mu.Unlock()
		return false
	}
	u.status = StatusSucceeded
	u.result = result
	listeners := append([]func(*MediaResult){}, u.successListeners...)
	u.mu.Unlock()

	for _, fn := range listeners {
		fn(result)
	}
	close(u.done)
	return true
}

func (u *Upload) fail(err *Error) bool {
	u.mu.Lock()
	if u.status != StatusInProgress {
		u.mu.Unlock()
		return false
	}
	u.status = StatusFailed
	u.err = err
	listeners := append([]func(*Error){}, u.errorListeners...)
	u.mu.Unlock()

	if len(listeners) == 0 {
		u.logger.Warnf("Upload %s failed without an error listener: %s", u.id, err.Message)
	}
	for _, fn := range listeners {
		fn(err)
	}
	close(u.done)
	return true
}
