package scoring

import (
	"sync"

	"regimen-risk/backend/internal/catalog"
)

type fakeDirectory struct {
	order   []string
	classes map[string]string
}

func newDirectory(pairs ...string) *fakeDirectory {
	d := &fakeDirectory{classes: map[string]string{}}
	for i := 0; i+1 < len(pairs); i += 2 {
		d.order = append(d.order, pairs[i])
		d.classes[pairs[i]] = pairs[i+1]
	}
	return d
}

func (d *fakeDirectory) ClassOf(id string) string {
	if c, ok := d.classes[id]; ok && c != "" {
		return c
	}
	return catalog.UnknownClass
}

func (d *fakeDirectory) SameClass(class string) []string {
	var out []string
	for _, id := range d.order {
		if d.classes[id] == class {
			out = append(out, id)
		}
	}
	return out
}

func (d *fakeDirectory) DrugIDs() []string {
	return append([]string(nil), d.order...)
}

// fakeClassifier returns fixed labels per unordered class pair and counts
// calls.
type fakeClassifier struct {
	classes []string
	labels  map[[2]string]string
	def     string
	mu      sync.Mutex
	calls   int
	seen    [][2]string
}

func (c *fakeClassifier) Predict(a, b string) (string, []float64) {
	c.mu.Lock()
	c.calls++
	c.seen = append(c.seen, [2]string{a, b})
	c.mu.Unlock()
	if l, ok := c.labels[[2]string{a, b}]; ok {
		return l, []float64{1}
	}
	if l, ok := c.labels[[2]string{b, a}]; ok {
		return l, []float64{1}
	}
	return c.def, []float64{1}
}

func (c *fakeClassifier) Classes() []string { return c.classes }

func (c *fakeClassifier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// exampleFixture is the D1/D2/D3 regimen with one pair in each bucket.
func exampleFixture() (*fakeDirectory, *fakeClassifier) {
	dir := newDirectory("D1", "c1", "D2", "c2", "D3", "c3")
	clf := &fakeClassifier{
		classes: []string{"c1", "c2", "c3"},
		labels: map[[2]string]string{
			{"c1", "c2"}: "severe",
			{"c1", "c3"}: "moderate",
			{"c2", "c3"}: "unknown",
		},
		def: "unknown",
	}
	return dir, clf
}

// labelPredictor maps drug pairs directly to labels.
type labelPredictor map[[2]string]string

func (p labelPredictor) PredictPair(a, b string) (string, []float64) {
	if l, ok := p[[2]string{a, b}]; ok {
		return l, nil
	}
	if l, ok := p[[2]string{b, a}]; ok {
		return l, nil
	}
	return "unknown", nil
}

func intPtr(v int) *int { return &v }
