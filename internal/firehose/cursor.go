package firehose

import "sync/atomic"

// Cursor is the last consumed firehose sequence number. It only moves forward.
type Cursor struct {
	seq atomic.Int64
}

// Advance moves the cursor to seq if seq is ahead of it.
func (c *Cursor) Advance(seq int64) bool {
	for {
		cur := c.seq.Load()
		if seq <= cur {
			return false
		}
		if c.seq.CompareAndSwap(cur, seq) {
			return true
		}
	}
}

func (c *Cursor) Load() int64 {
	return c.seq.Load()
}
