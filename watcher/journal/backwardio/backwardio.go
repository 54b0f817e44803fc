// Package backwardio implements a scanner that yields delimited tokens from
// the end of a file towards its start.
package backwardio

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
)

var maxTok = bufio.MaxScanTokenSize

// Scanner reads tokens backwards. The zero value is not usable; use
// NewScanner.
type Scanner struct {
	r   io.ReadSeeker
	buf []byte // unconsumed bytes, starting at file offset off
	off int64

	started bool
	done    bool
}

// NewScanner creates a scanner that starts at the current end of r.
func NewScanner(r io.ReadSeeker) *Scanner {
	return &Scanner{r: r}
}

// Prev returns the token before the last one returned, without its
// delimiter. The returned slice stays valid after further calls. io.EOF is
// returned once the start of the file has been passed, and bufio.ErrTooLong
// if a token does not fit in the maximum token size.
//
// Like strings.Split, a file ending in delim yields an empty token first.
func (s *Scanner) Prev(delim byte) ([]byte, error) {
	if !s.started {
		end, err := s.r.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, errors.Wrap(err, "failed to find end of file")
		}

		s.off = end
		s.started = true
		s.done = end == 0
	}

	for !s.done {
		if i := bytes.LastIndexByte(s.buf, delim); i >= 0 {
			tok := s.buf[i+1:]
			s.buf = s.buf[:i]
			return tok, nil
		}

		if s.off == 0 {
			// Whatever is left is the first token in the file.
			tok := s.buf
			s.buf = nil
			s.done = true
			return tok, nil
		}

		if len(s.buf) >= maxTok {
			return nil, bufio.ErrTooLong
		}

		if err := s.fill(); err != nil {
			return nil, err
		}
	}

	return nil, io.EOF
}

// fill prepends the chunk of the file right before buf.
func (s *Scanner) fill() error {
	n := int64(maxTok - len(s.buf))
	if n > s.off {
		n = s.off
	}

	if _, err := s.r.Seek(s.off-n, io.SeekStart); err != nil {
		return errors.Wrap(err, "failed to seek backwards")
	}

	buf := make([]byte, int(n)+len(s.buf))

	if _, err := io.ReadFull(s.r, buf[:n]); err != nil {
		return errors.Wrap(err, "failed to read seeked chunk")
	}

	copy(buf[n:], s.buf)

	s.buf = buf
	s.off -= n
	return nil
}
