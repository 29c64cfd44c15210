package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

var errWriterClosed = errors.New("logger: writer closed")

// asyncWriter moves formatted lines off the caller's goroutine. A single
// background loop owns the buffer and flushes it whenever the queue runs dry.
type asyncWriter struct {
	// mu guards closed; Write holds it shared while it may block on a full queue.
	mu     sync.RWMutex
	closed bool

	errMu sync.Mutex
	err   error

	lines   chan []byte
	flushes chan chan error
	stopped chan struct{}
	buf     *bufio.Writer
}

func newAsyncWriter(writers []io.Writer, bufSize int) *asyncWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	sinks := make([]io.Writer, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			sinks = append(sinks, w)
		}
	}
	w := &asyncWriter{
		lines:   make(chan []byte, 512),
		flushes: make(chan chan error),
		stopped: make(chan struct{}),
		buf:     bufio.NewWriterSize(io.MultiWriter(sinks...), bufSize),
	}
	go w.run()
	return w
}

func (w *asyncWriter) run() {
	defer close(w.stopped)
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				w.fail(w.buf.Flush())
				return
			}
			w.write(line)
			if len(w.lines) == 0 {
				w.fail(w.buf.Flush())
			}
		case ack := <-w.flushes:
			w.drain()
			ack <- w.buf.Flush()
		}
	}
}

// drain writes whatever is already queued without waiting for more.
func (w *asyncWriter) drain() {
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				return
			}
			w.write(line)
		default:
			return
		}
	}
}

func (w *asyncWriter) write(line []byte) {
	if _, err := w.buf.Write(line); err != nil {
		w.fail(err)
	}
}

func (w *asyncWriter) fail(err error) {
	if err == nil {
		return
	}
	w.errMu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.errMu.Unlock()
}

// Write queues a copy of p. It blocks when the queue is full rather than drop lines.
func (w *asyncWriter) Write(p []byte) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return errWriterClosed
	}
	if err := w.firstErr(); err != nil {
		return err
	}
	if len(p) > 0 {
		w.lines <- append([]byte(nil), p...)
	}
	return nil
}

// Flush returns once every line queued before the call has reached the sinks.
func (w *asyncWriter) Flush() error {
	w.mu.RLock()
	closed := w.closed
	w.mu.RUnlock()
	if closed {
		return w.firstErr()
	}
	ack := make(chan error, 1)
	select {
	case w.flushes <- ack:
		if err := <-ack; err != nil {
			return err
		}
	case <-w.stopped:
	}
	return w.firstErr()
}

// Close flushes pending lines and stops the loop. Later writes fail.
func (w *asyncWriter) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.lines)
	}
	w.mu.Unlock()
	<-w.stopped
	return w.firstErr()
}

func (w *asyncWriter) firstErr() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}
