package testcerts

// Deterministic crypto.Reader, used only by tests to generate reproducible
// self-signed certificates.
// overview: half the result is used as the output
// [a|...] -> sha512(a) -> [b|output] -> sha512(b)

import (
	"crypto/sha512"
	"io"
)

// determRandIter is the number of times a seed is hashed with SHA-512 to
// produce the starting state of a pseudo-random stream.
const determRandIter = 2048

// newDetermRand creates an io.Reader that produces pseudo-random bytes that
// are deterministic from a seed. Used in place of crypto/rand.Reader when
// generating test certificates and keys.
func newDetermRand(seed []byte) io.Reader {
	var out []byte
	next := seed
	for i := 0; i < determRandIter; i++ {
		next, out = hashStep(next)
	}
	return &determRand{
		next: next,
		out:  out,
	}
}

type determRand struct {
	next, out []byte
}

func (d *determRand) Read(b []byte) (int, error) {
	n := 0
	l := len(b)
	for n < l {
		next, out := hashStep(d.next)
		n += copy(b[n:], out)
		d.next = next
	}
	return n, nil
}

func hashStep(input []byte) (next []byte, output []byte) {
	nextout := sha512.Sum512(input)
	return nextout[:sha512.Size/2], nextout[sha512.Size/2:]
}
