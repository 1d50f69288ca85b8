package scoring

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"regimen-risk/backend/internal/catalog"
)

// DefaultMaxCandidates bounds the substitutes proposed for a target drug.
const DefaultMaxCandidates = 20

// DrugDirectory is the metadata store view needed to enumerate substitutes.
type DrugDirectory interface {
	MetadataStore
	// SameClass returns ids of the given class in natural order.
	SameClass(class string) []string
	// DrugIDs returns every id in natural order.
	DrugIDs() []string
}

// CandidateGenerator proposes substitutes for a drug.
type CandidateGenerator struct {
	directory DrugDirectory
	max       int
}

// NewCandidateGenerator returns a generator capped at max candidates. A max
// of zero or less uses DefaultMaxCandidates.
func NewCandidateGenerator(directory DrugDirectory, max int) (*CandidateGenerator, error) {
	if directory == nil {
		return nil, fmt.Errorf("%w: drug directory", ErrMissingDependency)
	}
	if max <= 0 {
		max = DefaultMaxCandidates
	}
	return &CandidateGenerator{directory: directory, max: max}, nil
}

// Candidates returns up to the configured maximum substitutes for target,
// preferring drugs of the same class and otherwise any other drug.
func (g *CandidateGenerator) Candidates(target string) []string {
	class := g.directory.ClassOf(target)
	if class != catalog.UnknownClass && class != "" {
		if same := g.collect(g.directory.SameClass(class), target); len(same) > 0 {
			logrus.WithFields(logrus.Fields{
				"target":     target,
				"class":      class,
				"candidates": len(same),
			}).Debug("same-class candidates found")
			return same
		}
	}

	fallback := g.collect(g.directory.DrugIDs(), target)
	logrus.WithFields(logrus.Fields{
		"target":     target,
		"class":      class,
		"candidates": len(fallback),
	}).Debug("no same-class candidates; using fallback")
	return fallback
}

func (g *CandidateGenerator) collect(ids []string, target string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, min(len(ids), g.max))
	for _, id := range ids {
		if len(out) >= g.max {
			break
		}
		if id == "" || id == target {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
