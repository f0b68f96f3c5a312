package browser

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestContainerName_UniquePerFallbackSession(t *testing.T) {
	a := containerName("fallback-" + uuid.New().String())
	b := containerName("fallback-" + uuid.New().String())

	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^renderpool-fallback-[0-9a-f-]{36}$`, a)
}
