// Package snowflake generates time-ordered 63-bit message ids, so sorting
// messages by id sorts them by send time within one node.
package snowflake

import (
	"fmt"
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

type Node struct {
	mu    sync.Mutex
	now   func() time.Time
	last  int64
	node  int64
	step  int64
	epoch int64
}

// NewNode returns a generator for node, which must be unique per running
// API replica.
func NewNode(node int64) (*Node, error) {
	return newNode(node, time.Now)
}

func newNode(node int64, now func() time.Time) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, fmt.Errorf("snowflake node %d out of range [0, %d]", node, nodeMax)
	}
	return &Node{now: now, node: node, epoch: epoch}, nil
}

// Generate never returns the same id twice on one node, even when the wall
// clock steps backwards. It keeps counting from the last seen millisecond.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	ms := n.now().UnixMilli()
	if ms < n.last {
		ms = n.last
	}

	if ms == n.last {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			// sequence exhausted; borrow the next millisecond
			ms = n.last + 1
		}
	} else {
		n.step = 0
	}
	n.last = ms

	return ((ms - n.epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// Time extracts the millisecond timestamp an id was generated at.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + epoch).UTC()
}
