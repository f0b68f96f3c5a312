// Package credits reports what a successful extraction costs. It never
// checks balances.
package credits

import (
	"fmt"

	"github.com/shehryarbajwa/renderpool/pkg/models"
)

// DefaultCost applies to operations without an explicit price
const DefaultCost = 1

// Table prices each operation
type Table struct {
	costs map[models.OperationType]int
}

// NewTable builds a table from configured costs. Unknown operations and
// non-positive costs are rejected: a success must never be free.
func NewTable(costs map[string]int) (*Table, error) {
	t := &Table{costs: make(map[models.OperationType]int, len(models.Operations))}
	for _, op := range models.Operations {
		t.costs[op] = DefaultCost
	}
	for name, cost := range costs {
		op := models.OperationType(name)
		if !op.Valid() {
			return nil, fmt.Errorf("credits: unknown operation %q", name)
		}
		if cost < 1 {
			return nil, fmt.Errorf("credits: cost for %s must be at least 1, got %d", name, cost)
		}
		t.costs[op] = cost
	}
	return t, nil
}

// Cost returns the credits charged for a successful run of op
func (t *Table) Cost(op models.OperationType) int {
	if t == nil {
		return DefaultCost
	}
	if c, ok := t.costs[op]; ok {
		return c
	}
	return DefaultCost
}
