// Package snowflake generates k-ordered unique message ids. The store
// assigns ids from a Generator so that ids sort in creation order, which
// gives the reconciler a deterministic tie-break for equal timestamps.
package snowflake

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Custom epoch: January 1, 2025 00:00:00 UTC.
const epoch int64 = 1735689600000

const (
	nodeIDBits   = 10
	sequenceBits = 12

	maxNodeID   = (1 << nodeIDBits) - 1
	maxSequence = (1 << sequenceBits) - 1

	nodeIDShift    = sequenceBits
	timestampShift = sequenceBits + nodeIDBits
)

// Generator produces unique ids encoded as zero-padded decimal strings so
// that lexicographic order matches numeric order.
type Generator struct {
	mu       sync.Mutex
	nodeID   int64
	sequence int64
	lastTime int64
}

// NewGenerator creates a generator for the given node. nodeID must be in
// [0, 1023].
func NewGenerator(nodeID int64) (*Generator, error) {
	if nodeID < 0 || nodeID > maxNodeID {
		return nil, fmt.Errorf("snowflake: nodeID must be between 0 and %d", maxNodeID)
	}
	return &Generator{nodeID: nodeID}, nil
}

// Generate returns the next unique id.
func (g *Generator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli() - epoch

	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// Sequence exhausted; spin until next millisecond.
			for now <= g.lastTime {
				now = time.Now().UnixMilli() - epoch
			}
		}
	} else {
		g.sequence = 0
	}

	g.lastTime = now

	id := (now << timestampShift) |
		(g.nodeID << nodeIDShift) |
		g.sequence

	return Format(id)
}

// Format encodes a raw id as a fixed-width decimal string.
func Format(id int64) string {
	return fmt.Sprintf("%019d", id)
}

// Timestamp returns the wall-clock time embedded in an id string, or the
// zero time if the id does not parse.
func Timestamp(id string) time.Time {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return time.Time{}
	}
	ms := (n >> timestampShift) + epoch
	return time.UnixMilli(ms)
}
