// Package snowflake generates the server-assigned ordering keys stores stamp
// on appended records.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

var ErrNodeRange = errors.New("node number must be between 0 and 1023")

// Node hands out strictly increasing IDs together with the wall-clock time
// embedded in them.
type Node struct {
	mu   sync.Mutex
	time int64
	node int64
	step int64
	now  func() time.Time
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, ErrNodeRange
	}
	return &Node{node: node, now: time.Now}, nil
}

// Generate returns the next ID.
func (n *Node) Generate() int64 {
	id, _ := n.Next()
	return id
}

// Next returns the next ID and the millisecond timestamp it encodes, so
// callers can stamp a record with a time consistent with its ordering key.
func (n *Node) Next() (int64, time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now().UnixMilli()

	if now < n.time {
		// Clock moved backwards; keep issuing from the last seen millisecond.
		now = n.time
	}

	if n.time == now {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			for now <= n.time {
				now = n.now().UnixMilli()
			}
		}
	} else {
		n.step = 0
	}

	n.time = now

	id := ((now - epoch) << timeShift) | (n.node << nodeShift) | n.step
	return id, time.UnixMilli(now).UTC()
}

// Time extracts the timestamp encoded in id.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + epoch).UTC()
}
