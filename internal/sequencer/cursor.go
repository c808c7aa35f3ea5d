// Package sequencer produces the ordered candidate identifiers of one department.
//
// The position is held in an explicit Cursor rather than in a loop variable, so a
// caller can observe it, persist it, and later construct a Cursor that starts from
// a recorded position.
package sequencer

import (
	"errors"
	"fmt"

	"github.com/ChuLiYu/kw-sourcing/internal/checksum"
	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// ErrInvalidRange is returned when start/end fall outside [0, SequenceSpace].
var ErrInvalidRange = errors.New("sequencer: invalid range")

// Cursor walks sequence numbers [start, end) of one department in increasing order.
// A Cursor is not safe for concurrent use; each scanner owns its own.
type Cursor struct {
	department types.DepartmentCode
	next       int
	end        int
}

// Option configures a Cursor.
type Option func(*Cursor)

// WithRange limits the cursor to [start, end).
func WithRange(start, end int) Option {
	return func(c *Cursor) {
		c.next = start
		c.end = end
	}
}

// New returns a cursor over the department's full identifier space unless an
// option narrows it.
func New(department types.DepartmentCode, opts ...Option) (*Cursor, error) {
	c := &Cursor{department: department, next: 0, end: types.SequenceSpace}
	for _, opt := range opts {
		opt(c)
	}
	if c.next < 0 || c.end > types.SequenceSpace || c.next > c.end {
		return nil, fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, c.next, c.end)
	}
	return c, nil
}

// Next returns the next identifier, with its control digit, and advances.
// ok is false once the range is exhausted.
func (c *Cursor) Next() (id types.BookID, ok bool, err error) {
	if c.next >= c.end {
		return types.BookID{}, false, nil
	}
	id, err = checksum.BookID(c.department, c.next)
	if err != nil {
		return types.BookID{}, false, err
	}
	c.next++
	return id, true, nil
}

// Position is the next sequence number Next would produce.
func (c *Cursor) Position() int { return c.next }

// End is the exclusive upper bound.
func (c *Cursor) End() int { return c.end }

// Done reports whether the range is exhausted.
func (c *Cursor) Done() bool { return c.next >= c.end }

// Department returns the department this cursor walks.
func (c *Cursor) Department() types.DepartmentCode { return c.department }
