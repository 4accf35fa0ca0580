// Package codec implements partial file protection used by story packs: only
// first 512 bytes of a resource are enciphered, the rest is stored as is.
package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"sdst/xxtea"
)

const (
	// HeaderSize is the size of the protected block at the start of a resource.
	HeaderSize = 512
	// MaxWords is the maximum number of words enciphered in a header block.
	MaxWords = HeaderSize / 4
)

// Codec applies (or skips for cleartext packs) header protection.
type Codec struct {
	Key       xxtea.Key
	Cleartext bool
}

// New returns codec for protected resources.
func New(key xxtea.Key) Codec {
	return Codec{Key: key}
}

// HeaderLen returns length of the protected block for resource of given size.
func HeaderLen(size int64) int {
	return int(min(HeaderSize, max(size, 0)))
}

func (c Codec) transform(block []byte, encode bool) []byte {
	out := make([]byte, len(block))
	copy(out, block)
	if c.Cleartext {
		return out
	}

	n := min(MaxWords, len(block)/4)
	words := xxtea.Words(block[:n*4], binary.LittleEndian)
	if encode {
		xxtea.Btea(words, n, c.Key)
	} else {
		xxtea.Btea(words, -n, c.Key)
	}
	// trailing unaligned bytes stay as they were
	copy(out, xxtea.Bytes(words, binary.LittleEndian))
	return out
}

// DecryptHeader returns decrypted copy of the header block. Only first
// HeaderSize bytes of block are ever processed.
func (c Codec) DecryptHeader(block []byte) []byte {
	return c.transform(block, false)
}

// EncryptHeader is the reverse of DecryptHeader.
func (c Codec) EncryptHeader(block []byte) []byte {
	return c.transform(block, true)
}

func (c Codec) apply(data []byte, encode bool) []byte {
	h := HeaderLen(int64(len(data)))
	out := c.transform(data[:h], encode)
	if len(data) > HeaderSize {
		out = append(out, data[HeaderSize:]...)
	}
	return out
}

// Decode returns fully decrypted copy of in-memory resource. Output always has
// the same length as input.
func (c Codec) Decode(data []byte) []byte {
	return c.apply(data, false)
}

// Encode protects in-memory resource the way appliance expects it.
func (c Codec) Encode(data []byte) []byte {
	return c.apply(data, true)
}

// ReadFile reads and decrypts the whole resource. Intended for small files
// (indexes, images) which are used fully loaded.
func (c Codec) ReadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read '%s': %w", path, err)
	}
	return c.Decode(data), nil
}
