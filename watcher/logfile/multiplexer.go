package logfile

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ChunkSize is the read buffer size per stream. One byte of it is kept
// unused, so a chunk is at most ChunkSize-1 bytes.
const ChunkSize = 8192

// DrainGrace bounds how long output still sitting in the pipes is copied
// after the child was reaped. Grandchildren may keep the pipes open forever.
var DrainGrace = 250 * time.Millisecond

// Multiplexer copies a child's stdout and stderr into one Writer until the
// child is reaped.
type Multiplexer struct {
	Writer *Writer
	// Rotation is optional.
	Rotation *RotationWatcher
	Log      logrus.FieldLogger
}

// stream reads chunks from one pipe end in the background.
type stream struct {
	name   string
	chunks chan []byte
}

func startStream(name string, r io.Reader, done <-chan struct{}, log logrus.FieldLogger) *stream {
	s := &stream{name: name, chunks: make(chan []byte)}

	go func() {
		defer close(s.chunks)

		buf := make([]byte, ChunkSize)
		for {
			n, err := r.Read(buf[:ChunkSize-1])
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])

				select {
				case s.chunks <- chunk:
				case <-done:
					return
				}
			}

			if err != nil {
				if err != io.EOF && !errors.Is(err, os.ErrClosed) {
					log.Debugf("%s pipe: %v", name, err)
				}
				return
			}
		}
	}()

	return s
}

// Run copies both streams into the writer until reaped receives a value,
// then copies what is left in the pipes for at most DrainGrace, closes the
// log file and returns. A stream that reaches EOF early simply drops out; only reaped ends
// the loop.
func (m *Multiplexer) Run(stdout, stderr io.Reader, reaped <-chan struct{}) {
	done := make(chan struct{})
	defer close(done)

	out := startStream("stdout", stdout, done, m.Log)
	errs := startStream("stderr", stderr, done, m.Log)

	outCh, errCh := out.chunks, errs.chunks

	defer m.Writer.Close()

	for {
		select {
		case chunk, ok := <-outCh:
			if !ok {
				outCh = nil
				continue
			}
			m.write(chunk)

		case chunk, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			m.write(chunk)

		case <-m.Rotation.Rotated():
			m.Writer.Invalidate()

		case <-reaped:
			m.drain(outCh, errCh)
			return
		}
	}
}

// drain copies the remaining output until both streams hit EOF or the grace
// period runs out.
func (m *Multiplexer) drain(outCh, errCh <-chan []byte) {
	grace := time.NewTimer(DrainGrace)
	defer grace.Stop()

	for outCh != nil || errCh != nil {
		select {
		case chunk, ok := <-outCh:
			if !ok {
				outCh = nil
				continue
			}
			m.write(chunk)

		case chunk, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			m.write(chunk)

		case <-grace.C:
			return
		}
	}
}

func (m *Multiplexer) write(chunk []byte) {
	// Write logs whatever it drops.
	m.Writer.Write(chunk)
}
