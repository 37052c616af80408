package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnreadable is returned when the PDF cannot be parsed at all.
var ErrUnreadable = errors.New("unreadable pdf")

type BlockKind int

const (
	BlockText BlockKind = iota
	BlockImage
)

type Block struct {
	Kind BlockKind
}

// Document is the rendering collaborator consumed by classification and
// direct extraction. Page numbers are 1-indexed.
type Document interface {
	Name() string
	Bytes() []byte
	PageCount() int
	Page(n int) (Page, error)
}

type Page interface {
	Number() int
	Blocks() ([]Block, error)
	Text() (string, error)
}

// CountBlocks tallies text and image blocks on a page.
func CountBlocks(p Page) (text, image int, err error) {
	blocks, err := p.Blocks()
	if err != nil {
		return 0, 0, err
	}
	for _, b := range blocks {
		switch b.Kind {
		case BlockText:
			text++
		case BlockImage:
			image++
		}
	}
	return text, image, nil
}

// ── ledongthuc/pdf implementation ────────────────────────────────────────────

type pdfDocument struct {
	name   string
	data   []byte
	reader *pdf.Reader
}

// Open parses PDF bytes. Parse panics inside the pdf library are turned
// into ErrUnreadable.
func Open(name string, data []byte) (doc Document, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrUnreadable)
	}
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("%w: %v", ErrUnreadable, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if err := checkPageTree(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return &pdfDocument{name: name, data: data, reader: r}, nil
}

// checkPageTree rejects documents whose catalog does not lead to a /Pages
// node. The reader reports those as having zero pages, which would pass for
// an empty document.
func checkPageTree(r *pdf.Reader) error {
	root := r.Trailer().Key("Root")
	if root.Kind() != pdf.Dict {
		return errors.New("missing document catalog")
	}
	pages := root.Key("Pages")
	if pages.Kind() != pdf.Dict || pages.Key("Type").Name() != "Pages" {
		return errors.New("missing page tree")
	}
	if pages.Key("Count").Int64() < 0 {
		return errors.New("negative page count")
	}
	return nil
}

func (d *pdfDocument) Name() string  { return d.name }
func (d *pdfDocument) Bytes() []byte { return d.data }

func (d *pdfDocument) PageCount() (n int) {
	defer func() {
		if recover() != nil {
			n = 0
		}
	}()
	return d.reader.NumPage()
}

func (d *pdfDocument) Page(n int) (p Page, err error) {
	if n < 1 || n > d.PageCount() {
		return nil, fmt.Errorf("page %d out of range", n)
	}
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("page %d: %v", n, r)
		}
	}()
	pg := d.reader.Page(n)
	if pg.V.IsNull() {
		return nil, fmt.Errorf("page %d missing from page tree", n)
	}
	return &pdfPage{number: n, page: pg}, nil
}

type pdfPage struct {
	number int
	page   pdf.Page
}

func (p *pdfPage) Number() int { return p.number }

// blockGapFactor is how many line heights of vertical whitespace separate
// two text blocks.
const blockGapFactor = 1.8

// defaultLineHeight is used when the font size is unknown.
const defaultLineHeight = 12.0

// Blocks approximates layout blocks: glyphs are gathered into lines by
// baseline, and lines into a block until a vertical gap larger than
// blockGapFactor line heights appears. Every image XObject in the page
// resources counts as one image block.
func (p *pdfPage) Blocks() (blocks []Block, err error) {
	defer func() {
		if r := recover(); r != nil {
			blocks, err = nil, fmt.Errorf("page %d: %v", p.number, r)
		}
	}()

	for i := 0; i < textBlockCount(p.page.Content().Text); i++ {
		blocks = append(blocks, Block{Kind: BlockText})
	}
	for i := 0; i < imageCount(p.page); i++ {
		blocks = append(blocks, Block{Kind: BlockImage})
	}
	return blocks, nil
}

func textBlockCount(glyphs []pdf.Text) int {
	type line struct {
		y    float64
		size float64
	}
	byBaseline := map[int64]*line{}
	for _, g := range glyphs {
		if strings.TrimSpace(g.S) == "" {
			continue
		}
		key := int64(math.Round(g.Y))
		l, ok := byBaseline[key]
		if !ok {
			l = &line{y: g.Y}
			byBaseline[key] = l
		}
		l.size = max(l.size, g.FontSize)
	}
	if len(byBaseline) == 0 {
		return 0
	}

	lines := make([]line, 0, len(byBaseline))
	for _, l := range byBaseline {
		lines = append(lines, *l)
	}
	// top of page first (PDF y grows upward)
	sort.Slice(lines, func(i, j int) bool { return lines[i].y > lines[j].y })

	count := 1
	for i := 1; i < len(lines); i++ {
		height := lines[i-1].size
		if height <= 0 {
			height = defaultLineHeight
		}
		if lines[i-1].y-lines[i].y > height*blockGapFactor {
			count++
		}
	}
	return count
}

func imageCount(pg pdf.Page) int {
	xobj := pg.Resources().Key("XObject")
	if xobj.IsNull() {
		return 0
	}
	n := 0
	for _, k := range xobj.Keys() {
		if xobj.Key(k).Key("Subtype").Name() == "Image" {
			n++
		}
	}
	return n
}

func (p *pdfPage) Text() (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("page %d: %v", p.number, r)
		}
	}()
	raw, err := p.page.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("page %d text: %w", p.number, err)
	}
	return CleanText(raw), nil
}

// CleanText normalises line endings and trims surrounding whitespace.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}

type urlDocument struct {
	Document
	url string
}

func (d urlDocument) SourceURL() string { return d.url }

// WithSourceURL marks doc as still reachable at url, letting backends that
// accept a URL skip uploading the bytes. An empty url returns doc unchanged.
func WithSourceURL(doc Document, url string) Document {
	if url == "" {
		return doc
	}
	return urlDocument{Document: doc, url: url}
}
