// Package stream provides random access to protected audio resources,
// decrypting header block on demand so the whole file never has to be loaded
// or decrypted up front.
package stream

import (
	"errors"
	"fmt"
	"io"
	"os"

	"sdst/codec"
)

// Source gives access to the underlying resource. Every call to Open must
// return a fresh handle positioned at the start of the resource.
type Source interface {
	Open() (io.ReadCloser, error)
	Size() (int64, error)
}

// FileSource is a Source backed by local file.
type FileSource string

func (f FileSource) Open() (io.ReadCloser, error) {
	return os.Open(string(f))
}

func (f FileSource) Size() (int64, error) {
	fi, err := os.Stat(string(f))
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Reader serves decrypted bytes of a protected resource.
//
// Reader keeps single forward-only cursor in the underlying handle. Requests
// behind the cursor reopen the resource. Decrypted header is computed at most
// once, on first request touching it, and kept for the lifetime of the Reader.
//
// Reader is not safe for concurrent use. Distinct readers over the same
// resource are independent. Using Reader after Close is a programming error
// and panics.
type Reader struct {
	src   Source
	codec codec.Codec

	rc     io.ReadCloser
	cursor int64
	header []byte
	size   int64
	closed bool
}

// New returns unopened Reader. Nothing is touched until the first call.
func New(src Source, c codec.Codec) *Reader {
	return &Reader{src: src, codec: c, size: -1}
}

// Open is a shortcut for reader over local file.
func Open(path string, c codec.Codec) *Reader {
	return New(FileSource(path), c)
}

func (r *Reader) ensureUsable() {
	if r.closed {
		panic("stream: use of closed reader")
	}
}

// reopen drops current handle (if any) and starts from the beginning of the
// resource.
func (r *Reader) reopen() error {
	if r.rc != nil {
		_ = r.rc.Close()
		r.rc = nil
	}
	rc, err := r.src.Open()
	if err != nil {
		return fmt.Errorf("unable to open resource: %w", err)
	}
	r.rc, r.cursor = rc, 0
	return nil
}

// skip advances cursor by n bytes. Returns io.EOF if resource ends earlier.
func (r *Reader) skip(n int64) error {
	if n <= 0 {
		return nil
	}
	if s, ok := r.rc.(io.Seeker); ok {
		if _, err := s.Seek(n, io.SeekCurrent); err != nil {
			return fmt.Errorf("unable to skip %d bytes: %w", n, err)
		}
		r.cursor += n
		return nil
	}
	copied, err := io.CopyN(io.Discard, r.rc, n)
	r.cursor += copied
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("unable to skip %d bytes: %w", n, err)
	}
	return nil
}

func (r *Reader) loadHeader() error {
	if r.rc == nil || r.cursor != 0 {
		if err := r.reopen(); err != nil {
			return err
		}
	}
	block := make([]byte, codec.HeaderSize)
	n, err := io.ReadFull(r.rc, block)
	r.cursor += int64(n)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("unable to read header: %w", err)
	}
	r.header = r.codec.DecryptHeader(block[:n])
	return nil
}

// ReadAt reads up to len(p) bytes starting at offset off.
//
// Unlike io.ReaderAt short reads are normal and are not accompanied by an
// error: request starting inside header block is satisfied from decrypted
// header only, so at most len(header)-off bytes are returned and caller must
// ask for the rest. Reads past the end of the resource return 0, io.EOF.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	r.ensureUsable()

	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if len(p) == 0 {
		return 0, nil
	}

	if r.rc == nil {
		if err := r.reopen(); err != nil {
			return 0, err
		}
	}

	if off < r.cursor {
		if err := r.reopen(); err != nil {
			return 0, err
		}
		if off >= codec.HeaderSize {
			if err := r.skip(off); err != nil {
				return 0, err
			}
		}
	}

	if off < codec.HeaderSize {
		if r.header == nil {
			if err := r.loadHeader(); err != nil {
				return 0, err
			}
		}
		if off >= int64(len(r.header)) {
			return 0, io.EOF
		}
		return copy(p, r.header[off:]), nil
	}

	if off > r.cursor {
		if err := r.skip(off - r.cursor); err != nil {
			return 0, err
		}
	}

	n, err := r.rc.Read(p)
	r.cursor += int64(n)
	if n > 0 && errors.Is(err, io.EOF) {
		err = nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("unable to read at %d: %w", off, err)
	}
	return n, err
}

// Size returns length of the resource. Decryption never changes it.
func (r *Reader) Size() (int64, error) {
	r.ensureUsable()

	if r.size < 0 {
		size, err := r.src.Size()
		if err != nil {
			return 0, fmt.Errorf("unable to get resource size: %w", err)
		}
		r.size = size
	}
	return r.size, nil
}

// Close releases underlying handle. Reader may not be used afterwards.
func (r *Reader) Close() error {
	r.ensureUsable()

	r.closed = true
	if r.rc == nil {
		return nil
	}
	err := r.rc.Close()
	r.rc = nil
	return err
}
