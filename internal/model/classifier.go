// Package model loads the trained pairwise severity classifier.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrEmptyVocabulary is returned when the artifact has no trained classes.
	ErrEmptyVocabulary = errors.New("classifier has no trained classes")
	// ErrNoLabels is returned when the artifact has no severity labels.
	ErrNoLabels = errors.New("classifier has no severity labels")
)

// Artifact is the serialized form of a fitted class-pair severity model.
type Artifact struct {
	Classes []string  `json:"classes"`
	Labels  []string  `json:"labels"`
	Prior   []float64 `json:"prior"`
	Cells   []Cell    `json:"cells"`
}

// Cell holds the fitted label distribution for one unordered class pair.
type Cell struct {
	Class1        string    `json:"class1"`
	Class2        string    `json:"class2"`
	Probabilities []float64 `json:"probabilities"`
}

// Classifier predicts interaction severity from a pair of pharmacologic
// classes. It is immutable after construction.
type Classifier struct {
	classes []string
	known   map[string]struct{}
	labels  []string
	prior   []float64
	cells   map[string][]float64
}

// Load reads a JSON artifact from disk.
func Load(path string) (*Classifier, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes and validates a JSON artifact.
func Parse(r io.Reader) (*Classifier, error) {
	var a Artifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	return New(a)
}

// New validates the artifact and builds a classifier from it.
func New(a Artifact) (*Classifier, error) {
	if len(a.Classes) == 0 {
		return nil, ErrEmptyVocabulary
	}
	if len(a.Labels) == 0 {
		return nil, ErrNoLabels
	}

	c := &Classifier{
		classes: append([]string(nil), a.Classes...),
		known:   make(map[string]struct{}, len(a.Classes)),
		labels:  append([]string(nil), a.Labels...),
		cells:   make(map[string][]float64, len(a.Cells)),
	}
	for _, class := range a.Classes {
		c.known[class] = struct{}{}
	}

	if len(a.Prior) == 0 {
		c.prior = uniform(len(a.Labels))
	} else {
		if err := checkDistribution(a.Prior, len(a.Labels)); err != nil {
			return nil, fmt.Errorf("prior: %w", err)
		}
		c.prior = append([]float64(nil), a.Prior...)
	}

	for i, cell := range a.Cells {
		if !c.Knows(cell.Class1) || !c.Knows(cell.Class2) {
			return nil, fmt.Errorf("cell %d references unknown class pair %q/%q", i, cell.Class1, cell.Class2)
		}
		if err := checkDistribution(cell.Probabilities, len(a.Labels)); err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		c.cells[pairKey(cell.Class1, cell.Class2)] = append([]float64(nil), cell.Probabilities...)
	}
	return c, nil
}

// Predict returns the most probable severity label for the class pair and
// the full distribution over Labels. Classes outside the vocabulary fall back
// to the prior; callers are expected to substitute known classes first.
func (c *Classifier) Predict(classA, classB string) (string, []float64) {
	probs, ok := c.cells[pairKey(classA, classB)]
	if !ok {
		probs = c.prior
	}
	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return c.labels[best], append([]float64(nil), probs...)
}

// Classes returns the trained class vocabulary in encoder order.
func (c *Classifier) Classes() []string {
	return append([]string(nil), c.classes...)
}

// Labels returns the severity label vocabulary.
func (c *Classifier) Labels() []string {
	return append([]string(nil), c.labels...)
}

// Knows reports whether the class was seen during fitting.
func (c *Classifier) Knows(class string) bool {
	_, ok := c.known[class]
	return ok
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}

func checkDistribution(probs []float64, size int) error {
	if len(probs) != size {
		return fmt.Errorf("expected %d probabilities, got %d", size, len(probs))
	}
	for _, p := range probs {
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("invalid probability %v", p)
		}
	}
	return nil
}

func uniform(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / float64(n)
	}
	return out
}

// String summarizes the vocabulary sizes.
func (c *Classifier) String() string {
	return fmt.Sprintf("classifier(classes=%d labels=%s cells=%d)", len(c.classes), strings.Join(c.labels, ","), len(c.cells))
}
