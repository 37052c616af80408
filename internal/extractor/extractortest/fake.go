// Package extractortest provides in-memory documents for tests.
package extractortest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/toricodesthings/text-extraction-service/internal/extractor"
)

// FakePage describes one page by its block counts and embedded text.
type FakePage struct {
	TextBlocks  int
	ImageBlocks int
	Text        string
	BlocksErr   error
	TextErr     error
}

type Document struct {
	FileName string
	Data     []byte
	Pages    []FakePage
	PageErr  map[int]error
}

func New(pages ...FakePage) *Document {
	return &Document{FileName: "fake.pdf", Data: []byte("%PDF-1.4 fake"), Pages: pages}
}

func (d *Document) Name() string   { return d.FileName }
func (d *Document) Bytes() []byte  { return d.Data }
func (d *Document) PageCount() int { return len(d.Pages) }

func (d *Document) Page(n int) (extractor.Page, error) {
	if err, ok := d.PageErr[n]; ok {
		return nil, err
	}
	if n < 1 || n > len(d.Pages) {
		return nil, fmt.Errorf("page %d out of range", n)
	}
	return &page{n: n, p: d.Pages[n-1]}, nil
}

type page struct {
	n int
	p FakePage
}

func (p *page) Number() int { return p.n }

func (p *page) Blocks() ([]extractor.Block, error) {
	if p.p.BlocksErr != nil {
		return nil, p.p.BlocksErr
	}
	out := make([]extractor.Block, 0, p.p.TextBlocks+p.p.ImageBlocks)
	for i := 0; i < p.p.TextBlocks; i++ {
		out = append(out, extractor.Block{Kind: extractor.BlockText})
	}
	for i := 0; i < p.p.ImageBlocks; i++ {
		out = append(out, extractor.Block{Kind: extractor.BlockImage})
	}
	return out, nil
}

func (p *page) Text() (string, error) {
	if p.p.TextErr != nil {
		return "", p.p.TextErr
	}
	return p.p.Text, nil
}

// TextPage is a page with enough text blocks to be labeled text.
func TextPage(text string) FakePage {
	return FakePage{TextBlocks: 3, Text: text}
}

// ScanPage is a page holding a single image and no text layer.
func ScanPage() FakePage {
	return FakePage{ImageBlocks: 1}
}

// PDFLine is one line of Helvetica text with its baseline at (X, Y), in
// points from the bottom-left corner. Size 0 means 12pt.
type PDFLine struct {
	X, Y float64
	Size float64
	Text string
}

// PDFPage describes one page for BuildPDF.
type PDFPage struct {
	Lines  []PDFLine
	Images int // 1x1 image XObjects drawn on the page
	Forms  int // form XObjects, which are not images
}

// MinimalPDF builds a single-page PDF drawing the given lines 14pt apart
// with 12pt Helvetica, so they form one text block.
func MinimalPDF(lines ...string) []byte {
	page := PDFPage{}
	for i, l := range lines {
		page.Lines = append(page.Lines, PDFLine{X: 72, Y: 720 - 14*float64(i), Text: l})
	}
	return BuildPDF(page)
}

// BuildPDF writes an uncompressed PDF with a flat page tree. The catalog
// is object 1 and the page tree object 2.
func BuildPDF(pages ...PDFPage) []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"", // page tree, filled in once the kids are numbered
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}
	add := func(obj string) int {
		objects = append(objects, obj)
		return len(objects)
	}

	kids := make([]string, 0, len(pages))
	for _, pg := range pages {
		var content bytes.Buffer
		xobjects := []string{}
		for i := 0; i < pg.Images; i++ {
			ref := add("<< /Type /XObject /Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8 /Length 1 >>\nstream\nA\nendstream")
			name := fmt.Sprintf("Im%d", i+1)
			xobjects = append(xobjects, fmt.Sprintf("/%s %d 0 R", name, ref))
			fmt.Fprintf(&content, "q 100 0 0 100 72 %d cm /%s Do Q\n", 72+110*i, name)
		}
		for i := 0; i < pg.Forms; i++ {
			ref := add("<< /Type /XObject /Subtype /Form /BBox [0 0 10 10] /Length 1 >>\nstream\n \nendstream")
			xobjects = append(xobjects, fmt.Sprintf("/Fm%d %d 0 R", i+1, ref))
		}
		for _, l := range pg.Lines {
			size := l.Size
			if size == 0 {
				size = 12
			}
			fmt.Fprintf(&content, "BT /F1 %g Tf %g %g Td (%s) Tj ET\n", size, l.X, l.Y, escapePDFString(l.Text))
		}

		contentRef := add(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()))
		resources := "/Font << /F1 3 0 R >>"
		if len(xobjects) > 0 {
			resources += " /XObject << " + strings.Join(xobjects, " ") + " >>"
		}
		pageRef := add(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << %s >> >>", contentRef, resources))
		kids = append(kids, fmt.Sprintf("%d 0 R", pageRef))
	}
	objects[1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(kids))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

var pdfStringEscaper = strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)

func escapePDFString(s string) string {
	return pdfStringEscaper.Replace(s)
}
