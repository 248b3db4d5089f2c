// shared/eventlog/partitioner.go
package eventlog

import (
	"fmt"
	"strconv"
	"strings"

	redisu "github.com/Ftotnem/GO-PIPELINE/shared/redis"
	"github.com/stathat/consistent"
)

// Partition is one ordered sub-stream of the event log.
type Partition int

// String returns the partition name used in keys and consumer names, e.g. "p3".
func (p Partition) String() string {
	return "p" + strconv.Itoa(int(p))
}

// ParsePartition is the inverse of Partition.String.
func ParsePartition(s string) (Partition, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(s, "p"))
	if err != nil || !strings.HasPrefix(s, "p") || n < 0 {
		return 0, fmt.Errorf("invalid partition name %q", s)
	}
	return Partition(n), nil
}

// Partitioner maps a match onto one of a fixed number of partitions with a
// consistent-hash ring, so every action of a match lands in the same partition.
type Partitioner struct {
	ring       *consistent.Consistent
	partitions []Partition
}

// NewPartitioner builds a ring over n partitions.
func NewPartitioner(n int) (*Partitioner, error) {
	if n <= 0 {
		return nil, fmt.Errorf("partition count must be positive (got %d)", n)
	}
	ring := consistent.New()
	parts := make([]Partition, n)
	for i := 0; i < n; i++ {
		parts[i] = Partition(i)
		ring.Add(parts[i].String())
	}
	return &Partitioner{ring: ring, partitions: parts}, nil
}

// PartitionFor returns the partition that owns matchID.
func (p *Partitioner) PartitionFor(matchID string) Partition {
	name, err := p.ring.Get(matchID)
	if err != nil {
		// The ring always has members, see NewPartitioner.
		return p.partitions[0]
	}
	part, err := ParsePartition(name)
	if err != nil {
		return p.partitions[0]
	}
	return part
}

// Partitions returns every partition in ascending order.
func (p *Partitioner) Partitions() []Partition {
	out := make([]Partition, len(p.partitions))
	copy(out, p.partitions)
	return out
}

// StreamKey returns the Redis stream key for partition p.
func StreamKey(prefix string, p Partition) string {
	return fmt.Sprintf(redisu.StreamKeyFmt, prefix, p)
}
