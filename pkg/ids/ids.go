// Package ids generates the human-facing identifiers the platform hands out:
// sortable payment references and compact booking numbers.
package ids

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewTransactionID returns a time-sortable payment reference.
func NewTransactionID() string {
	return "TXN-" + ksuid.New().String()
}

// BookingNumbers issues appointment booking numbers. Each server instance
// must run with a distinct node id.
type BookingNumbers struct {
	node *snowflake.Node
}

func NewBookingNumbers(nodeID int64) (*BookingNumbers, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &BookingNumbers{node: node}, nil
}

func (b *BookingNumbers) Next() string {
	return "BK-" + b.node.Generate().Base32()
}
