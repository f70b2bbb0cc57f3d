package sink

import "sync"

// Writer serializes writes from several goroutines onto one Sink. A single
// goroutine owns the Sink; Write only queues a copy of the bytes.
//
// The first error returned by the Sink is passed to onError. Later chunks
// are still offered to the Sink, but their errors are not reported again.
type Writer struct {
	chunks chan []byte
	done   chan struct{}
	sink   Sink

	closeOnce sync.Once
	closeErr  error
}

// NewWriter starts the goroutine owning s. It runs until Close is called.
func NewWriter(s Sink, onError func(error)) *Writer {
	w := &Writer{
		chunks: make(chan []byte, 100),
		done:   make(chan struct{}),
		sink:   s,
	}

	go func() {
		defer close(w.done)
		failed := false
		report := func(err error) {
			if failed {
				return
			}
			failed = true
			if onError != nil {
				onError(err)
			}
		}

		for chunk := range w.chunks {
			if _, err := s.Write(chunk); err != nil {
				report(err)
			}
			// Flush once the queue is drained so a follower sees whole bursts
			if len(w.chunks) == 0 {
				if err := s.Flush(); err != nil {
					report(err)
				}
			}
		}
	}()

	return w
}

// Write queues a copy of p. It must not be called after Close.
func (w *Writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.chunks <- append([]byte(nil), p...)
	return len(p), nil
}

// Close waits for all queued chunks to be written and closes the Sink.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		close(w.chunks)
		<-w.done
		w.closeErr = w.sink.Close()
	})
	return w.closeErr
}
