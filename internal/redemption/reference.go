package redemption

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// ReferenceGenerator yields transaction reference numbers.
type ReferenceGenerator interface {
	Next() string
}

// SnowflakeReferences issues time-ordered references such as TXN-3KQ9ZB1Y8W0G.
type SnowflakeReferences struct {
	node *snowflake.Node
}

// NewSnowflakeReferences creates a generator for one node. Node IDs must differ across instances.
func NewSnowflakeReferences(nodeID int64) (*SnowflakeReferences, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeReferences{node: node}, nil
}

// Next implements ReferenceGenerator.
func (g *SnowflakeReferences) Next() string {
	return "TXN-" + strings.ToUpper(g.node.Generate().Base36())
}
