// Package xxtea implements the corrected block TEA (XXTEA) variant used to
// protect story pack resources.
package xxtea

import (
	"encoding/binary"
	"fmt"
)

const delta uint32 = 0x9e3779b9

// KeySize is the size of a cipher key in bytes.
const KeySize = 16

// Key is a 128 bit cipher key as four 32 bit words.
type Key [4]uint32

// CommonKey is the key shared by all appliances. Key bytes are read
// big-endian, while payload words are little-endian - this is how firmware
// does it and must not be "fixed".
var CommonKey = MustKey([]byte{
	0x91, 0xbd, 0x7a, 0x0a, 0xa7, 0x54, 0x40, 0xa9,
	0xbb, 0xd4, 0x9d, 0x6c, 0xe0, 0xdc, 0xc0, 0xe3,
})

// KeyFromBytes builds key from 16 bytes interpreted as big-endian words.
func KeyFromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, fmt.Errorf("invalid key length: expected %d, got %d", KeySize, len(b))
	}
	copy(k[:], Words(b, binary.BigEndian))
	return k, nil
}

// MustKey is like KeyFromBytes but panics on error.
func MustKey(b []byte) Key {
	k, err := KeyFromBytes(b)
	if err != nil {
		panic(err)
	}
	return k
}

// Bytes returns key as 16 big-endian bytes.
func (k Key) Bytes() []byte {
	return Bytes(k[:], binary.BigEndian)
}

// Words converts data to 32 bit words using requested byte order. Trailing
// 1-3 bytes which do not form complete word are dropped.
func Words(data []byte, order binary.ByteOrder) []uint32 {
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = order.Uint32(data[i*4:])
	}
	return words
}

// Bytes converts words back to bytes using requested byte order.
func Bytes(words []uint32, order binary.ByteOrder) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		order.PutUint32(out[i*4:], w)
	}
	return out
}

func mx(k *Key, e uint32, p int, y, z, sum uint32) uint32 {
	return ((z>>5 ^ y<<2) + (y>>3 ^ z<<4)) ^ ((sum ^ y) + (k[uint32(p&3)^e] ^ z))
}

// Btea transforms first |n| words of v in place. Positive n encodes,
// negative n decodes, |n| < 2 leaves v untouched. Caller is responsible for
// making sure v holds at least |n| words.
func Btea(v []uint32, n int, k Key) {
	switch {
	case n > 1:
		encode(v[:n], &k)
	case n < -1:
		decode(v[:-n], &k)
	}
}

// Encrypt encodes all words of v in place.
func Encrypt(v []uint32, k Key) {
	Btea(v, len(v), k)
}

// Decrypt decodes all words of v in place.
func Decrypt(v []uint32, k Key) {
	Btea(v, -len(v), k)
}

func encode(v []uint32, k *Key) {
	n := len(v)
	rounds := 1 + 52/n

	var (
		sum  uint32
		y, e uint32
		p    int
	)
	z := v[n-1]
	for ; rounds > 0; rounds-- {
		sum += delta
		e = (sum >> 2) & 3
		for p = 0; p < n-1; p++ {
			y = v[p+1]
			v[p] += mx(k, e, p, y, z, sum)
			z = v[p]
		}
		y = v[0]
		v[n-1] += mx(k, e, p, y, z, sum)
		z = v[n-1]
	}
}

func decode(v []uint32, k *Key) {
	n := len(v)
	rounds := 1 + 52/n

	var (
		z, e uint32
		p    int
	)
	sum := uint32(rounds) * delta
	y := v[0]
	for ; rounds > 0; rounds-- {
		e = (sum >> 2) & 3
		for p = n - 1; p > 0; p-- {
			z = v[p-1]
			v[p] -= mx(k, e, p, y, z, sum)
			y = v[p]
		}
		z = v[n-1]
		v[0] -= mx(k, e, p, y, z, sum)
		y = v[0]
		sum -= delta
	}
}
