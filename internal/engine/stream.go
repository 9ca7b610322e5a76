package engine

import (
	"io"
	"sync"
	"time"
)

// Chunk is one incremental unit of generated text and its arrival time.
type Chunk struct {
	Text string
	At   time.Time
}

// Stream is a pull-based, forward-only chunk sequence. Recv returns io.EOF
// after the final chunk. Close releases the upstream connection and is safe
// to call at any point, including mid-stream on caller disconnect.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// RawOutput couples an adapter's chunk stream with the wall-clock start of
// the upstream call, so downstream metric computation sees the same clock the
// adapter observed.
type RawOutput struct {
	Start  time.Time
	Stream Stream
}

type funcStream struct {
	recv      func() (Chunk, error)
	close     func() error
	closeOnce sync.Once
	closeErr  error
}

func (s *funcStream) Recv() (Chunk, error) {
	return s.recv()
}

func (s *funcStream) Close() error {
	s.closeOnce.Do(func() {
		if s.close != nil {
			s.closeErr = s.close()
		}
	})
	return s.closeErr
}

// singleChunk synthesizes the degenerate stream a batch backend produces: one
// chunk carrying the whole completion, stamped at completion time.
func singleChunk(text string, at time.Time) Stream {
	delivered := false
	return &funcStream{
		recv: func() (Chunk, error) {
			if delivered {
				return Chunk{}, io.EOF
			}
			delivered = true
			return Chunk{Text: text, At: at}, nil
		},
	}
}
