// Package chunker splits an input stream into dispatchable records.
//
// Input is read through two fixed-size buffers used as a sliding window: the
// unconsumed tail of the current buffer is copied to the front of the other
// buffer before the next read, so a record split across reads is reassembled
// without unbounded buffering. A record longer than the buffer is an error.
//
// In line mode each call to Next yields one line including its "\n". In bulk
// mode Next yields the largest buffered prefix that ends on a line boundary.
package chunker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	// DefaultSize is the buffer size used when no bulk size is configured.
	DefaultSize = 16 * 1024

	// PageSize is the granularity bulk sizes must be a multiple of.
	PageSize = 4096
)

// ErrLineTooLong reports a record that does not fit into the buffer.
var ErrLineTooLong = errors.New("line too long for buffer")

// Options configures a Chunker.
type Options struct {
	// Size is the buffer size in bytes. Zero means DefaultSize.
	Size int
	// Bulk yields multi-line chunks instead of single lines.
	Bulk bool
	// Sentinel, when non-empty, ends the stream at the first line equal to it
	// (compared without the trailing line terminator). The sentinel line and
	// everything after it is never yielded.
	Sentinel string
}

// Chunker yields records from an io.Reader. It is not safe for concurrent use.
type Chunker struct {
	r        io.Reader
	bufs     [2][]byte
	cur      int
	start    int
	end      int
	eof      bool
	done     bool
	bulk     bool
	sentinel []byte
}

// New returns a Chunker reading from r.
func New(r io.Reader, opts Options) *Chunker {
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}
	c := &Chunker{
		r:    r,
		bulk: opts.Bulk,
	}
	c.bufs[0] = make([]byte, size)
	c.bufs[1] = make([]byte, size)
	if opts.Sentinel != "" {
		c.sentinel = []byte(opts.Sentinel)
	}
	return c
}

// Size returns the buffer size.
func (c *Chunker) Size() int { return len(c.bufs[0]) }

// Next returns the next record. The returned slice is only valid until the
// following call. At end of input (or at the sentinel) Next returns io.EOF.
func (c *Chunker) Next() ([]byte, error) {
	for {
		if c.done {
			return nil, io.EOF
		}
		if c.bulk && !c.eof && c.end-c.start < c.Size() {
			if err := c.fill(); err != nil {
				return nil, err
			}
		}

		data := c.bufs[c.cur][c.start:c.end]
		var cut int
		if c.bulk {
			cut = bytes.LastIndexByte(data, '\n') + 1
		} else {
			cut = bytes.IndexByte(data, '\n') + 1
		}

		switch {
		case cut > 0:
		case c.eof && len(data) == 0:
			c.done = true
			return nil, io.EOF
		case c.eof:
			cut = len(data)
		case len(data) == c.Size():
			atEOF, err := c.atEOF()
			if err != nil {
				return nil, err
			}
			if !atEOF {
				return nil, fmt.Errorf("%w (%d bytes)", ErrLineTooLong, c.Size())
			}
			continue
		default:
			if err := c.fill(); err != nil {
				return nil, err
			}
			continue
		}

		rec := data[:cut]
		c.start += cut
		if c.sentinel != nil {
			rec = c.truncateAtSentinel(rec)
			if len(rec) == 0 {
				if c.done {
					return nil, io.EOF
				}
				continue
			}
		}
		return rec, nil
	}
}

// fill slides unconsumed bytes into the spare buffer and performs one read.
func (c *Chunker) fill() error {
	if c.eof {
		return nil
	}
	if c.start > 0 {
		next := 1 - c.cur
		n := copy(c.bufs[next], c.bufs[c.cur][c.start:c.end])
		c.cur, c.start, c.end = next, 0, n
	}
	if c.end == c.Size() {
		return nil
	}

	n, err := c.r.Read(c.bufs[c.cur][c.end:])
	c.end += n
	if errors.Is(err, io.EOF) {
		c.eof = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

// atEOF reports whether the input is exhausted while the buffer is full. A
// byte read here belongs to an oversized record, so it is not kept.
func (c *Chunker) atEOF() (bool, error) {
	var one [1]byte
	for {
		n, err := c.r.Read(one[:])
		if n > 0 {
			return false, nil
		}
		if errors.Is(err, io.EOF) {
			c.eof = true
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("read input: %w", err)
		}
	}
}

// truncateAtSentinel returns the part of rec before the first sentinel line
// and marks the stream done when one is found.
func (c *Chunker) truncateAtSentinel(rec []byte) []byte {
	off := 0
	for off < len(rec) {
		line := rec[off:]
		if i := bytes.IndexByte(line, '\n'); i >= 0 {
			line = line[:i+1]
		}
		if bytes.Equal(bytes.TrimSuffix(line, []byte("\n")), c.sentinel) {
			c.done = true
			return rec[:off]
		}
		off += len(line)
	}
	return rec
}

// CountRecords returns how many records chunk holds: one per "\n", plus one
// for an unterminated final line.
func CountRecords(chunk []byte) int {
	if len(chunk) == 0 {
		return 0
	}
	n := bytes.Count(chunk, []byte("\n"))
	if chunk[len(chunk)-1] != '\n' {
		n++
	}
	return n
}

// SplitRecords splits chunk after its n-th record. If chunk holds n records or
// fewer, head is the whole chunk and tail is empty.
func SplitRecords(chunk []byte, n int) (head, tail []byte) {
	if n <= 0 {
		return chunk[:0], chunk
	}
	off := 0
	for range n {
		i := bytes.IndexByte(chunk[off:], '\n')
		if i < 0 {
			return chunk, chunk[len(chunk):]
		}
		off += i + 1
	}
	return chunk[:off], chunk[off:]
}
