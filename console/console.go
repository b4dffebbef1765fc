// Package console implements the console device backing fd 0 (keyboard)
// and fd 1 (display): fd=1 routes to the console via putbuf, fd=0 reads
// the keyboard a byte at a time.
//
// The input side is a small ring buffer grounded on circbuf.Circbuf_t's
// head/tail/bufsz shape (circbuf/circbuf.go), simplified since this
// kernel has no page allocator interface to lazily back the buffer with
// — a plain byte slice serves the same purpose here.
package console

import (
	"bufio"
	"io"
	"sync"
)

const ringSize = 256

/// Console is the shared console device: a writer for fd 1 and a
/// byte-at-a-time ring-buffered reader for fd 0.
type Console struct {
	out io.Writer
	mu  sync.Mutex

	in      *bufio.Reader
	ring    [ringSize]byte
	head    int
	tail    int
	filled  int
}

/// New builds a console writing to out and reading keystrokes from in.
func New(out io.Writer, in io.Reader) *Console {
	return &Console{out: out, in: bufio.NewReader(in)}
}

/// Putbuf writes buf to the display atomically with respect to other
/// writers.
func (c *Console) Putbuf(buf []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, _ := c.out.Write(buf)
	return n
}

func (c *Console) fill() bool {
	b, err := c.in.ReadByte()
	if err != nil {
		return false
	}
	c.ring[c.head%ringSize] = b
	c.head++
	c.filled++
	return true
}

/// Getc blocks until a keystroke is available and returns it, reading the
/// keyboard a byte at a time. ok is false only at end of input, standing
/// in for a closed keyboard stream in tests.
func (c *Console) Getc() (byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filled == 0 {
		if !c.fill() {
			return 0, false
		}
	}
	b := c.ring[c.tail%ringSize]
	c.tail++
	c.filled--
	return b, true
}

/// Read copies up to len(dst) keystrokes into dst, for read(0, buf, n).
func (c *Console) Read(dst []byte) int {
	for i := range dst {
		b, ok := c.Getc()
		if !ok {
			return i
		}
		dst[i] = b
	}
	return len(dst)
}
