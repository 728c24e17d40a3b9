package process

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"kilometers.ai/procorch/internal/core/domain/process"
	procp "kilometers.ai/procorch/internal/core/ports/process"
)

type outputState int

const (
	outputAbsent  outputState = iota // stdout was not captured
	outputIdle                       // pipe open, nobody has touched it
	outputClaimed                    // read end handed to another process
	outputPumping                    // being copied into the in-memory buffer
	outputDrained                    // pump reached EOF
)

const pumpChunkSize = 32 * 1024

const (
	// readerStall is how long a full buffer waits for an attached reader before
	// overflow is discarded
	readerStall = 2 * time.Second
	// drainGrace bounds each read of the pipe once the child has exited and its
	// wait delay has passed
	drainGrace = 100 * time.Millisecond
)

// Output is the captured stdout of a child. The OS pipe is either handed to a single
// downstream process via Claim, or pumped into memory by the first reader or waiter.
//
// The limit applies to bytes buffered but not yet read. While a reader is attached
// the pump waits for it to make room; with no reader, overflow is discarded and
// Truncated reports it.
type Output struct {
	mu        sync.Mutex
	cond      *sync.Cond
	space     chan struct{}
	ownerID   string
	file      *os.File
	state     outputState
	buf       bytes.Buffer
	limit     int64
	attached  bool
	expired   bool
	truncated bool
	pumpErr   error
}

func newOutput(ownerID string, file *os.File, limit int64) *Output {
	o := &Output{
		ownerID: ownerID,
		file:    file,
		state:   outputIdle,
		limit:   limit,
		space:   make(chan struct{}, 1),
	}
	if file == nil {
		o.state = outputAbsent
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Captured reports whether stdout was piped at launch
func (o *Output) Captured() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state != outputAbsent
}

// Truncated reports whether bytes were dropped because of the buffering limit
func (o *Output) Truncated() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.truncated
}

// Claim transfers the pipe's read end to the caller exactly once
func (o *Output) Claim() (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case outputAbsent:
		return nil, &process.InvalidChainError{ProcessID: o.ownerID, Reason: "output was not captured"}
	case outputClaimed:
		return nil, &process.InvalidChainError{ProcessID: o.ownerID, Reason: "output already chained to another process"}
	case outputPumping, outputDrained:
		return nil, &process.InvalidChainError{ProcessID: o.ownerID, Reason: "output already consumed"}
	}

	f := o.file
	o.file = nil
	o.state = outputClaimed
	return f, nil
}

// Release takes back a claimed read end, making the stream claimable again
func (o *Output) Release(rc io.ReadCloser) {
	o.mu.Lock()
	defer o.mu.Unlock()

	f, ok := rc.(*os.File)
	if o.state != outputClaimed || !ok {
		rc.Close()
		return
	}
	o.file = f
	o.state = outputIdle
}

// startPump begins copying the pipe into memory if nobody has claimed it yet
func (o *Output) startPump() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.startPumpLocked()
}

func (o *Output) startPumpLocked() {
	if o.state != outputIdle {
		return
	}
	o.state = outputPumping
	go o.pump(o.file)
}

func (o *Output) pump(f *os.File) {
	defer f.Close()

	chunk := make([]byte, pumpChunkSize)
	for {
		o.mu.Lock()
		expired := o.expired
		o.mu.Unlock()
		if expired {
			setDrainDeadline(f)
		}

		n, err := f.Read(chunk)
		if n > 0 {
			o.store(chunk[:n])
		}
		if err != nil {
			o.mu.Lock()
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && !errors.Is(err, os.ErrDeadlineExceeded) {
				o.pumpErr = err
			}
			o.state = outputDrained
			o.file = nil
			o.cond.Broadcast()
			o.mu.Unlock()
			return
		}
	}
}

// expire stops the pump from waiting on writers other than the exited child, such
// as a background grandchild that inherited stdout
func (o *Output) expire() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.expired = true
	if o.state == outputPumping && o.file != nil {
		setDrainDeadline(o.file)
	}
}

func setDrainDeadline(f *os.File) {
	if err := f.SetReadDeadline(time.Now().Add(drainGrace)); err != nil {
		// pipes without deadline support are closed instead
		f.Close()
	}
}

func (o *Output) store(p []byte) {
	for len(p) > 0 {
		o.mu.Lock()
		if o.limit <= 0 {
			o.buf.Write(p)
			o.cond.Broadcast()
			o.mu.Unlock()
			return
		}

		if room := o.limit - int64(o.buf.Len()); room > 0 {
			n := len(p)
			if int64(n) > room {
				n = int(room)
			}
			o.buf.Write(p[:n])
			p = p[n:]
			o.cond.Broadcast()
			o.mu.Unlock()
			continue
		}

		if !o.attached {
			o.truncated = true
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()

		timer := time.NewTimer(readerStall)
		select {
		case <-o.space:
		case <-timer.C:
			o.mu.Lock()
			o.attached = false
			o.mu.Unlock()
		}
		timer.Stop()
	}
}

// Read blocks until buffered data is available or the stream ends
func (o *Output) Read(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// attach before the pump runs so nothing is discarded ahead of the first read
	o.attached = true
	o.startPumpLocked()
	for o.buf.Len() == 0 && o.state == outputPumping {
		o.cond.Wait()
	}
	if o.buf.Len() > 0 {
		n, err := o.buf.Read(p)
		select {
		case o.space <- struct{}{}:
		default:
		}
		return n, err
	}
	if o.pumpErr != nil {
		err := o.pumpErr
		o.pumpErr = nil
		return 0, err
	}
	return 0, io.EOF
}

// ReadAll returns everything not yet read. A drained stream yields an empty slice.
func (o *Output) ReadAll() ([]byte, error) {
	data, err := io.ReadAll(o)
	if data == nil {
		data = []byte{}
	}
	return data, err
}

// closeUnclaimed releases a pipe nobody touched, used when launch fails
func (o *Output) closeUnclaimed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == outputIdle && o.file != nil {
		o.file.Close()
		o.file = nil
		o.state = outputDrained
	}
}

// syncBuffer collects stderr written by the exec copier goroutine
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

var _ procp.Output = (*Output)(nil)
