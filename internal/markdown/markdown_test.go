package markdown

import (
	"bytes"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuin/goldmark"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestConvert_HeadingAndStrong(t *testing.T) {
	c := NewConverter()

	res, err := c.Convert(`<html><head><title>Example</title></head><body><h1>Title</h1><p>Hello <b>world</b></p></body></html>`,
		mustURL(t, "https://example.com"))
	require.NoError(t, err)

	assert.Contains(t, res.Markdown, "# Title")
	assert.Contains(t, res.Markdown, "Hello **world**")
	assert.Equal(t, "Example", res.Title)
	assert.Equal(t, 3, res.WordCount)
}

func TestConvert_StripsDangerousContent(t *testing.T) {
	c := NewConverter()

	res, err := c.Convert(`<p>Safe</p><script>alert("x")</script><a href="javascript:alert(1)">click</a><iframe src="https://evil.example"></iframe>`, nil)
	require.NoError(t, err)

	assert.NotContains(t, res.Markdown, "alert")
	assert.NotContains(t, res.Markdown, "javascript:")
	assert.NotContains(t, res.Markdown, "evil.example")
	assert.Contains(t, res.Markdown, "Safe")
}

func TestConvert_ClampsAriaHeadingDepth(t *testing.T) {
	c := NewConverter()

	res, err := c.Convert(`<div role="heading" aria-level="9">Deep</div><div role="heading" aria-level="3">Mid</div>`, nil)
	require.NoError(t, err)

	assert.Contains(t, res.Markdown, "###### Deep")
	assert.NotContains(t, res.Markdown, "####### Deep")
	assert.Contains(t, res.Markdown, "### Mid")
}

func TestConvert_ProtocolRelativeLinksBecomeAbsolute(t *testing.T) {
	c := NewConverter()

	res, err := c.Convert(`<p><a href="//cdn.example.com/file">file</a></p>`, mustURL(t, "http://example.com/page"))
	require.NoError(t, err)

	assert.Contains(t, res.Markdown, "(http://cdn.example.com/file)")
}

func TestConvert_CollapsesBlankLines(t *testing.T) {
	c := NewConverter()

	res, err := c.Convert(`<p>one</p><br><br><br><br><p>two</p>`, nil)
	require.NoError(t, err)

	assert.NotContains(t, res.Markdown, "\n\n\n")
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a\n\nb", Normalize("a\r\n\r\n\r\n\r\nb"))
	assert.Equal(t, "a\n\nb", Normalize("\n\na\n\n\n\n\nb\n\n"))
	assert.Equal(t, "a\nb", Normalize("a\nb"))
}

func TestCountWords(t *testing.T) {
	assert.Equal(t, 0, CountWords(""))
	assert.Equal(t, 0, CountWords("# - ** --- >"))
	assert.Equal(t, 3, CountWords("# Title\n\nHello **world**"))
	assert.Equal(t, 4, CountWords("- item 1\n- item 2"))
}

// Converting Markdown that has been rendered back to HTML keeps the word count.
func TestConvert_RoundTripKeepsWordCount(t *testing.T) {
	c := NewConverter()
	source := `<h2>Release notes</h2>
<p>The <em>pool</em> now recycles <strong>browsers</strong> before they go stale.</p>
<ul><li>faster starts</li><li>fewer leaks</li></ul>
<p>See <a href="https://example.com/docs">the docs</a>.</p>`

	first, err := c.Convert(source, nil)
	require.NoError(t, err)

	var rendered bytes.Buffer
	require.NoError(t, goldmark.Convert([]byte(first.Markdown), &rendered))

	second, err := c.Convert(rendered.String(), nil)
	require.NoError(t, err)

	assert.Equal(t, first.WordCount, second.WordCount)
}
