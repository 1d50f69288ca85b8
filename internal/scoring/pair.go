package scoring

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"regimen-risk/backend/internal/catalog"
)

// ErrMissingDependency is returned when an engine component is built without
// one of its injected collaborators.
var ErrMissingDependency = errors.New("missing scoring dependency")

// MetadataStore resolves a drug id to its pharmacologic class. Unknown ids
// must resolve to catalog.UnknownClass.
type MetadataStore interface {
	ClassOf(drugID string) string
}

// Classifier is a trained, stateless severity model over class pairs.
type Classifier interface {
	Predict(classA, classB string) (string, []float64)
	Classes() []string
}

// PairPredictor yields the severity label and distribution for two drugs.
type PairPredictor interface {
	PredictPair(drugA, drugB string) (string, []float64)
}

// PredictorOptions tunes the pair predictor.
type PredictorOptions struct {
	// CacheSize bounds the class-pair memo. Zero disables it.
	CacheSize int
}

// Predictor resolves drugs to classes and queries the classifier.
type Predictor struct {
	meta         MetadataStore
	classifier   Classifier
	known        map[string]struct{}
	defaultClass string
	cache        *lru.Cache[string, prediction]
}

type prediction struct {
	label string
	probs []float64
}

// NewPredictor validates the collaborators and snapshots the classifier's
// class vocabulary.
func NewPredictor(meta MetadataStore, classifier Classifier, opts PredictorOptions) (*Predictor, error) {
	if meta == nil {
		return nil, fmt.Errorf("%w: metadata store", ErrMissingDependency)
	}
	if classifier == nil {
		return nil, fmt.Errorf("%w: classifier", ErrMissingDependency)
	}
	classes := classifier.Classes()
	if len(classes) == 0 {
		return nil, fmt.Errorf("%w: classifier has no trained classes", ErrMissingDependency)
	}
	p := &Predictor{
		meta:         meta,
		classifier:   classifier,
		known:        make(map[string]struct{}, len(classes)),
		defaultClass: classes[0],
	}
	for _, class := range classes {
		p.known[class] = struct{}{}
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, prediction](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("prediction cache: %w", err)
		}
		p.cache = cache
	}
	return p, nil
}

// PredictPair returns the classifier's label and probability vector for the
// pair. Classes never seen during fitting are replaced by the first trained
// class before the classifier is called.
func (p *Predictor) PredictPair(drugA, drugB string) (string, []float64) {
	classA := p.resolve(drugA)
	classB := p.resolve(drugB)

	if p.cache == nil {
		return p.classifier.Predict(classA, classB)
	}
	key := classA + "\x00" + classB
	if hit, ok := p.cache.Get(key); ok {
		return hit.label, append([]float64(nil), hit.probs...)
	}
	label, probs := p.classifier.Predict(classA, classB)
	p.cache.Add(key, prediction{label: label, probs: append([]float64(nil), probs...)})
	return label, probs
}

func (p *Predictor) resolve(drugID string) string {
	class := p.meta.ClassOf(drugID)
	if class == "" {
		class = catalog.UnknownClass
	}
	if _, ok := p.known[class]; ok {
		return class
	}
	logrus.WithFields(logrus.Fields{
		"drug_id":    drugID,
		"class":      class,
		"substitute": p.defaultClass,
	}).Trace("class not in classifier vocabulary")
	return p.defaultClass
}
