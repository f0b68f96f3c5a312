package blocking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/renderpool/pkg/models"
)

func TestDefaultTable_TextOperationsDropVisualResources(t *testing.T) {
	table := DefaultTable()

	for _, op := range []models.OperationType{models.OperationContent, models.OperationMarkdown, models.OperationLinks} {
		p := table.For(op)
		assert.True(t, p.Blocks(ClassImage), op)
		assert.True(t, p.Blocks(ClassMedia), op)
		assert.True(t, p.Blocks(ClassFont), op)
		assert.True(t, p.Blocks(ClassStylesheet), op)
		assert.False(t, p.Blocks(ClassScript), op)
		assert.False(t, p.Blocks(ClassDocument), op)
	}
}

func TestDefaultTable_VisualOperationsKeepImagesAndFonts(t *testing.T) {
	table := DefaultTable()

	for _, op := range []models.OperationType{models.OperationScreenshot, models.OperationPDF} {
		p := table.For(op)
		assert.False(t, p.Blocks(ClassImage), op)
		assert.False(t, p.Blocks(ClassFont), op)
		assert.False(t, p.Blocks(ClassStylesheet), op)
		assert.True(t, p.Blocks(ClassMedia), op)
	}
}

func TestPolicy_DocumentNeverBlocked(t *testing.T) {
	p := NewPolicy(ClassDocument, ClassImage)
	assert.False(t, p.Blocks(ClassDocument))
	assert.True(t, p.Predicate()(ClassImage))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy([]string{"Image", " font "})
	require.NoError(t, err)
	assert.Equal(t, []Class{ClassFont, ClassImage}, p.Classes())

	_, err = ParsePolicy([]string{"document"})
	require.Error(t, err)

	_, err = ParsePolicy([]string{"holograms"})
	require.Error(t, err)
}

func TestParseClass(t *testing.T) {
	assert.Equal(t, ClassImage, ParseClass("Image"))
	assert.Equal(t, ClassXHR, ParseClass("XHR"))
	assert.Equal(t, ClassOther, ParseClass("Ping"))
}

func TestTable_ForUnknownOperation(t *testing.T) {
	p := DefaultTable().For("video")
	assert.False(t, p.Blocks(ClassImage))
}
