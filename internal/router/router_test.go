package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toricodesthings/text-extraction-service/internal/types"
)

type availability bool

func (a availability) Available() bool { return bool(a) }

// classification for a 6-page document: text on odd pages, scans on even.
func mixed() types.DocumentClassification {
	return types.DocumentClassification{
		DocumentType: types.Hybrid,
		TotalPages:   6,
		TextPages:    []int{1, 3, 5},
		ImagePages:   []int{2, 4, 6},
		HybridPages:  []int{},
		Confidence:   0.5,
	}
}

func classificationFor(dt types.DocumentType) types.DocumentClassification {
	switch dt {
	case types.PureText:
		return types.DocumentClassification{DocumentType: dt, TotalPages: 3, TextPages: []int{1, 2, 3}, ImagePages: []int{}, HybridPages: []int{}, Confidence: 1}
	case types.PureImage:
		return types.DocumentClassification{DocumentType: dt, TotalPages: 2, TextPages: []int{}, ImagePages: []int{1, 2}, HybridPages: []int{}, Confidence: 1}
	case types.Hybrid:
		return mixed()
	default:
		return types.DocumentClassification{DocumentType: types.Unknown, TextPages: []int{}, ImagePages: []int{}, HybridPages: []int{}}
	}
}

func TestRoute_Table(t *testing.T) {
	r := New(availability(true), Options{})

	tests := []struct {
		dt         types.DocumentType
		q          types.Quality
		want       types.Strategy
		wantDirect []int
		wantOCR    []int
	}{
		{types.PureText, types.QualityFast, types.DirectOnly, []int{1, 2, 3}, []int{}},
		{types.PureText, types.QualityBalanced, types.DirectOnly, []int{1, 2, 3}, []int{}},
		{types.PureText, types.QualityAccurate, types.DirectOnly, []int{1, 2, 3}, []int{}},
		{types.PureImage, types.QualityFast, types.DirectOnly, []int{1, 2}, []int{}},
		{types.PureImage, types.QualityBalanced, types.OCRAll, []int{}, []int{1, 2}},
		{types.PureImage, types.QualityAccurate, types.OCRAll, []int{}, []int{1, 2}},
		{types.Hybrid, types.QualityFast, types.DirectOnly, []int{1, 2, 3, 4, 5, 6}, []int{}},
		{types.Hybrid, types.QualityBalanced, types.OCRSelective, []int{1, 3, 5}, []int{2, 4, 6}},
		{types.Hybrid, types.QualityAccurate, types.OCRSelective, []int{1, 3, 5}, []int{2, 4, 6}},
		{types.Unknown, types.QualityFast, types.DirectOnly, []int{}, []int{}},
		{types.Unknown, types.QualityBalanced, types.DirectOnly, []int{}, []int{}},
		{types.Unknown, types.QualityAccurate, types.DirectOnly, []int{}, []int{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.dt)+"/"+string(tt.q), func(t *testing.T) {
			c := classificationFor(tt.dt)
			d := r.Route(c, tt.q)
			assert.Equal(t, tt.want, d.Strategy)
			assert.Equal(t, tt.wantDirect, d.DirectPages)
			assert.Equal(t, tt.wantOCR, d.OCRPages)
			assert.Equal(t, c.TotalPages, d.TotalPages)
			assert.Equal(t, tt.dt, d.DocumentType)
			assertPartition(t, c.TotalPages, d)
		})
	}
}

func TestRoute_AccurateAddsHybridPages(t *testing.T) {
	c := mixed()
	c.TextPages = []int{1, 5}
	c.HybridPages = []int{3}

	r := New(availability(true), Options{})
	balanced := r.Route(c, types.QualityBalanced)
	assert.Equal(t, []int{1, 3, 5}, balanced.DirectPages)
	assert.Equal(t, []int{2, 4, 6}, balanced.OCRPages)

	accurate := r.Route(c, types.QualityAccurate)
	assert.Equal(t, []int{1, 5}, accurate.DirectPages)
	assert.Equal(t, []int{2, 3, 4, 6}, accurate.OCRPages)
}

func TestRoute_NoOCRDowngrades(t *testing.T) {
	for _, avail := range []OCRAvailability{nil, availability(false)} {
		r := New(avail, Options{})
		d := r.Route(classificationFor(types.PureImage), types.QualityAccurate)
		assert.Equal(t, types.DirectOnly, d.Strategy)
		assert.Equal(t, []int{1, 2}, d.DirectPages)
		assert.Empty(t, d.OCRPages)
		assert.Zero(t, d.EstimatedCost)
		assert.Contains(t, d.Reasoning, "OCR backend unavailable")
	}
}

func TestRoute_InvalidQualityIsBalanced(t *testing.T) {
	r := New(availability(true), Options{})
	d := r.Route(classificationFor(types.PureImage), types.Quality("turbo"))
	assert.Equal(t, types.QualityBalanced, d.Quality)
	assert.Equal(t, types.OCRAll, d.Strategy)
}

func TestRoute_Idempotent(t *testing.T) {
	r := New(availability(true), Options{})
	c := mixed()
	assert.Equal(t, r.Route(c, types.QualityBalanced), r.Route(c, types.QualityBalanced))
	assert.Equal(t, []int{1, 3, 5}, c.TextPages, "input must not be mutated")
}

func TestRoute_Estimates(t *testing.T) {
	r := New(availability(true), Options{})
	d := r.Route(mixed(), types.QualityBalanced)
	assert.InDelta(t, 3*0.005, d.EstimatedCost, 1e-12)
	assert.InDelta(t, 3*3.0+3*0.1, d.EstimatedTimeSeconds, 1e-12)

	custom := New(availability(true), Options{CostPerOCRPage: 0.02, TimePerOCRPage: 10, TimePerDirectPage: 1})
	cost, secs := custom.Estimate(2, 4)
	assert.InDelta(t, 0.04, cost, 1e-12)
	assert.InDelta(t, 24.0, secs, 1e-12)
}

func TestRoute_ConcreteScenario(t *testing.T) {
	c := types.DocumentClassification{
		DocumentType: types.Hybrid,
		TotalPages:   3,
		TextPages:    []int{1},
		ImagePages:   []int{2, 3},
		HybridPages:  []int{},
		Confidence:   2.0 / 3.0,
	}
	d := New(availability(true), Options{}).Route(c, types.QualityBalanced)
	assert.Equal(t, []int{1}, d.DirectPages)
	assert.Equal(t, []int{2, 3}, d.OCRPages)
	assert.Equal(t, "PDF type: hybrid | Quality: balanced | Strategy: ocr_selective | Direct extraction: pages [1] | OCR extraction: pages [2 3]", d.Reasoning)
}

func TestRoute_ReasoningSummarisesLongLists(t *testing.T) {
	d := New(availability(true), Options{}).Route(mixed(), types.QualityFast)
	assert.Contains(t, d.Reasoning, "Direct extraction: 6 pages")
	assert.Contains(t, d.Reasoning, "No OCR required")
}

func assertPartition(t *testing.T, total int, d types.RoutingDecision) {
	t.Helper()
	seen := map[int]int{}
	for _, p := range d.DirectPages {
		seen[p]++
	}
	for _, p := range d.OCRPages {
		seen[p]++
	}
	require.Len(t, seen, total)
	for p := 1; p <= total; p++ {
		assert.Equal(t, 1, seen[p], "page %d", p)
	}
}
