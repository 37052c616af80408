package extractor_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toricodesthings/text-extraction-service/internal/extractor"
	"github.com/toricodesthings/text-extraction-service/internal/extractor/extractortest"
)

func TestOpen_RejectsGarbage(t *testing.T) {
	_, err := extractor.Open("empty.pdf", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, extractor.ErrUnreadable)

	_, err = extractor.Open("junk.pdf", []byte("<html>not a pdf</html>"))
	require.Error(t, err)
	assert.ErrorIs(t, err, extractor.ErrUnreadable)
}

func TestOpen_BrokenPageTree(t *testing.T) {
	valid := string(extractortest.MinimalPDF("Invoice 2024-001"))

	tests := []struct {
		name string
		data string
	}{
		{"dangling pages reference", strings.Replace(valid, "/Pages 2 0 R", "/Pages 9 0 R", 1)},
		{"pages is not a page tree", strings.Replace(valid, "/Pages 2 0 R", "/Pages 3 0 R", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := extractor.Open("broken.pdf", []byte(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, extractor.ErrUnreadable)
		})
	}
}

func TestOpen_ZeroPages(t *testing.T) {
	doc, err := extractor.Open("empty.pdf", extractortest.BuildPDF())
	require.NoError(t, err)
	assert.Equal(t, 0, doc.PageCount())
}

func TestPage_MissingFromTree(t *testing.T) {
	data := strings.Replace(string(extractortest.MinimalPDF("only page")), "/Count 1", "/Count 2", 1)
	doc, err := extractor.Open("short.pdf", []byte(data))
	require.NoError(t, err)
	require.Equal(t, 2, doc.PageCount())

	_, err = doc.Page(1)
	require.NoError(t, err)
	_, err = doc.Page(2)
	assert.Error(t, err)
}

func TestOpen_MinimalDocument(t *testing.T) {
	data := extractortest.MinimalPDF("Invoice 2024-001", "Total due 42.00 EUR")

	doc, err := extractor.Open("invoice.pdf", data)
	require.NoError(t, err)
	assert.Equal(t, "invoice.pdf", doc.Name())
	assert.Equal(t, data, doc.Bytes())
	assert.Equal(t, 1, doc.PageCount())

	page, err := doc.Page(1)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Number())

	text, err := page.Text()
	require.NoError(t, err)
	assert.Contains(t, text, "Invoice")

	_, err = doc.Page(2)
	assert.Error(t, err)
	_, err = doc.Page(0)
	assert.Error(t, err)
}

type stubPage struct {
	blocks []extractor.Block
	err    error
}

func (s stubPage) Number() int                        { return 1 }
func (s stubPage) Blocks() ([]extractor.Block, error) { return s.blocks, s.err }
func (s stubPage) Text() (string, error)              { return "", nil }

func TestCountBlocks(t *testing.T) {
	text, image, err := extractor.CountBlocks(stubPage{blocks: []extractor.Block{
		{Kind: extractor.BlockText}, {Kind: extractor.BlockImage}, {Kind: extractor.BlockText}, {Kind: extractor.BlockText},
	}})
	require.NoError(t, err)
	assert.Equal(t, 3, text)
	assert.Equal(t, 1, image)

	_, _, err = extractor.CountBlocks(stubPage{err: fmt.Errorf("boom")})
	assert.Error(t, err)
}

func blocksOf(t *testing.T, data []byte, page int) (text, image int) {
	t.Helper()
	doc, err := extractor.Open("layout.pdf", data)
	require.NoError(t, err)
	p, err := doc.Page(page)
	require.NoError(t, err)
	text, image, err = extractor.CountBlocks(p)
	require.NoError(t, err)
	return text, image
}

func TestBlocks_RealLayout(t *testing.T) {
	tests := []struct {
		name      string
		page      extractortest.PDFPage
		wantText  int
		wantImage int
	}{
		{
			name: "adjacent lines form one block",
			page: extractortest.PDFPage{Lines: []extractortest.PDFLine{
				{X: 72, Y: 720, Text: "Invoice 2024-001"},
				{X: 72, Y: 706, Text: "Total due 42.00 EUR"},
			}},
			wantText: 1,
		},
		{
			name: "gap wider than the block spacing splits blocks",
			page: extractortest.PDFPage{Lines: []extractortest.PDFLine{
				{X: 72, Y: 720, Text: "ACME GmbH"},
				{X: 72, Y: 706, Text: "Musterstrasse 1"},
				{X: 72, Y: 600, Text: "Invoice 2024-001"},
				{X: 72, Y: 586, Text: "Total due 42.00 EUR"},
			}},
			wantText: 2,
		},
		{
			name: "gap just over the block spacing",
			page: extractortest.PDFPage{Lines: []extractortest.PDFLine{
				{X: 72, Y: 720, Text: "Heading"},
				{X: 72, Y: 698, Text: "Body"},
			}},
			wantText: 2,
		},
		{
			name: "larger type widens the block spacing",
			page: extractortest.PDFPage{Lines: []extractortest.PDFLine{
				{X: 72, Y: 720, Size: 24, Text: "Heading"},
				{X: 72, Y: 690, Size: 24, Text: "Subheading"},
			}},
			wantText: 1,
		},
		{
			name: "words on one baseline are one line",
			page: extractortest.PDFPage{Lines: []extractortest.PDFLine{
				{X: 72, Y: 720, Text: "Qty"},
				{X: 300, Y: 720, Text: "Price"},
			}},
			wantText: 1,
		},
		{
			name:      "scanned page",
			page:      extractortest.PDFPage{Images: 1},
			wantImage: 1,
		},
		{
			name:      "form xobjects are not images",
			page:      extractortest.PDFPage{Images: 2, Forms: 1},
			wantImage: 2,
		},
		{
			name: "text over an image",
			page: extractortest.PDFPage{Images: 1, Lines: []extractortest.PDFLine{
				{X: 72, Y: 720, Text: "Stamp"},
			}},
			wantText:  1,
			wantImage: 1,
		},
		{
			name: "blank page",
			page: extractortest.PDFPage{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, image := blocksOf(t, extractortest.BuildPDF(tt.page), 1)
			assert.Equal(t, tt.wantText, text)
			assert.Equal(t, tt.wantImage, image)
		})
	}
}

func TestBlocks_SecondPage(t *testing.T) {
	data := extractortest.BuildPDF(
		extractortest.PDFPage{Images: 1},
		extractortest.PDFPage{Lines: []extractortest.PDFLine{
			{X: 72, Y: 720, Text: "Terms"},
			{X: 72, Y: 500, Text: "Signature"},
		}},
	)
	text, image := blocksOf(t, data, 2)
	assert.Equal(t, 2, text)
	assert.Equal(t, 0, image)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "a\nb\nc", extractor.CleanText("  a\r\nb\rc\x00  "))
	assert.Equal(t, "", extractor.CleanText("\n\n"))
}

func TestWithSourceURL(t *testing.T) {
	doc, err := extractor.Open("invoice.pdf", extractortest.MinimalPDF("hello world"))
	require.NoError(t, err)

	assert.Equal(t, doc, extractor.WithSourceURL(doc, ""))

	wrapped := extractor.WithSourceURL(doc, "https://bucket.example.com/invoice.pdf?sig=abc")
	u, ok := wrapped.(interface{ SourceURL() string })
	require.True(t, ok)
	assert.Equal(t, "https://bucket.example.com/invoice.pdf?sig=abc", u.SourceURL())
	assert.Equal(t, "invoice.pdf", wrapped.Name())
	assert.Equal(t, 1, wrapped.PageCount())
}
