package scoring

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultTopK is the number of substitutes returned when none is requested.
const DefaultTopK = 3

// Recommendation is the scored outcome of substituting one candidate.
type Recommendation struct {
	AlternativeDrugID string  `json:"alternative_drug_id"`
	RiskScore         float64 `json:"risk_score"`
	TotalPairs        int     `json:"total_pairs"`
	SeverePairs       int     `json:"severe_pairs"`
	ModeratePairs     int     `json:"moderate_pairs"`
	UnknownPairs      int     `json:"unknown_pairs"`
}

// SearchRequest describes one substitution search.
type SearchRequest struct {
	Regimen []string
	Target  string
	// TopK of zero or less uses the recommender's default.
	TopK int
	// Progress, if set, is called once per scored candidate. Calls are
	// serialized but arrive in completion order.
	Progress func(Recommendation)
}

// RecommenderOptions tunes the search.
type RecommenderOptions struct {
	Workers     int
	DefaultTopK int
}

// Recommender searches candidate substitutions for the lowest regimen risk.
type Recommender struct {
	aggregator  *Aggregator
	candidates  *CandidateGenerator
	workers     int
	defaultTopK int
}

// NewRecommender wires the search to its aggregator and candidate source.
func NewRecommender(aggregator *Aggregator, candidates *CandidateGenerator, opts RecommenderOptions) (*Recommender, error) {
	if aggregator == nil {
		return nil, fmt.Errorf("%w: aggregator", ErrMissingDependency)
	}
	if candidates == nil {
		return nil, fmt.Errorf("%w: candidate generator", ErrMissingDependency)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DetermineWorkerCount()
	}
	topK := opts.DefaultTopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Recommender{aggregator: aggregator, candidates: candidates, workers: workers, defaultTopK: topK}, nil
}

// DetermineWorkerCount sizes the candidate worker pool from available CPUs.
func DetermineWorkerCount() int {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	if workers > 12 {
		workers = 12
	}
	return workers
}

// Recommend returns at most TopK substitutes for Target ranked by ascending
// risk. Ties keep candidate order. A target absent from the regimen yields an
// empty result. Scoring is not personalized.
func (r *Recommender) Recommend(ctx context.Context, req SearchRequest) ([]Recommendation, error) {
	regimen := distinct(req.Regimen)
	req.Target = strings.TrimSpace(req.Target)
	if !contains(regimen, req.Target) {
		return []Recommendation{}, nil
	}
	topK := req.TopK
	if topK <= 0 {
		topK = r.defaultTopK
	}

	base := make([]string, 0, len(regimen)-1)
	for _, id := range regimen {
		if id != req.Target {
			base = append(base, id)
		}
	}
	candidates := r.candidates.Candidates(req.Target)
	if len(candidates) == 0 {
		return []Recommendation{}, nil
	}

	baseTally := r.aggregator.tallyAll(base)
	results := make([]Recommendation, len(candidates))

	var progressMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, candidate := range candidates {
		i, candidate := i, candidate
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t := baseTally
			if !contains(base, candidate) {
				t = baseTally.plus(r.aggregator.tallyNew(base, candidate))
			}
			rec := Recommendation{
				AlternativeDrugID: candidate,
				RiskScore:         t.score(Profile{}),
				TotalPairs:        t.total(),
				SeverePairs:       t.severe,
				ModeratePairs:     t.moderate,
				UnknownPairs:      t.unknown,
			}
			results[i] = rec
			if req.Progress != nil {
				progressMu.Lock()
				req.Progress(rec)
				progressMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RiskScore < results[j].RiskScore
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
