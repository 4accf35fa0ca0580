package stream

import (
	"errors"
	"fmt"
	"io"
)

// ReadSeeker hides short reads of Reader behind regular io.Reader semantics,
// so decrypted resource could be handed to anything expecting a file (players,
// io.Copy and friends).
type ReadSeeker struct {
	r   *Reader
	off int64
}

var _ io.ReadSeekCloser = (*ReadSeeker)(nil)

// NewReadSeeker wraps r. Closing ReadSeeker closes r.
func NewReadSeeker(r *Reader) *ReadSeeker {
	return &ReadSeeker{r: r}
}

func (s *ReadSeeker) Read(p []byte) (int, error) {
	var total int
	for total < len(p) {
		n, err := s.r.ReadAt(p[total:], s.off)
		total += n
		s.off += int64(n)
		if err != nil {
			if total > 0 && errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			if total == 0 {
				return 0, io.ErrNoProgress
			}
			break
		}
	}
	return total, nil
}

func (s *ReadSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = s.off + offset
	case io.SeekEnd:
		size, err := s.r.Size()
		if err != nil {
			return 0, err
		}
		abs = size + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("negative position %d", abs)
	}
	s.off = abs
	return abs, nil
}

func (s *ReadSeeker) Close() error {
	return s.r.Close()
}
