package credits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/renderpool/pkg/models"
)

func TestNewTable(t *testing.T) {
	table, err := NewTable(map[string]int{"pdf": 3, "screenshot": 2})
	require.NoError(t, err)

	assert.Equal(t, 3, table.Cost(models.OperationPDF))
	assert.Equal(t, 2, table.Cost(models.OperationScreenshot))
	assert.Equal(t, 1, table.Cost(models.OperationMarkdown))

	var nilTable *Table
	assert.Equal(t, DefaultCost, nilTable.Cost(models.OperationLinks))
}

func TestNewTable_Rejects(t *testing.T) {
	_, err := NewTable(map[string]int{"crawl": 1})
	assert.Error(t, err)

	_, err = NewTable(map[string]int{"content": 0})
	assert.Error(t, err)
}
