// Package scoring aggregates pairwise interaction severity into regimen risk
// and searches for lower-risk substitutions.
package scoring

import "context"

// EngineOptions configures the components built by NewEngine.
type EngineOptions struct {
	MaxCandidates int
	DefaultTopK   int
	Workers       int
	CacheSize     int
}

// Engine bundles the scoring components over one metadata/classifier
// snapshot. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	predictor   *Predictor
	aggregator  *Aggregator
	candidates  *CandidateGenerator
	recommender *Recommender
}

// NewEngine builds every component, failing if a dependency is missing.
func NewEngine(directory DrugDirectory, classifier Classifier, opts EngineOptions) (*Engine, error) {
	predictor, err := NewPredictor(directoryOrNil(directory), classifier, PredictorOptions{CacheSize: opts.CacheSize})
	if err != nil {
		return nil, err
	}
	aggregator, err := NewAggregator(predictor)
	if err != nil {
		return nil, err
	}
	candidates, err := NewCandidateGenerator(directory, opts.MaxCandidates)
	if err != nil {
		return nil, err
	}
	recommender, err := NewRecommender(aggregator, candidates, RecommenderOptions{
		Workers:     opts.Workers,
		DefaultTopK: opts.DefaultTopK,
	})
	if err != nil {
		return nil, err
	}
	return &Engine{
		predictor:   predictor,
		aggregator:  aggregator,
		candidates:  candidates,
		recommender: recommender,
	}, nil
}

// Assess scores a regimen with optional personalization.
func (e *Engine) Assess(regimen []string, profile Profile) Assessment {
	return e.aggregator.Assess(regimen, profile)
}

// PredictPair exposes the pair severity predictor.
func (e *Engine) PredictPair(drugA, drugB string) (string, []float64) {
	return e.predictor.PredictPair(drugA, drugB)
}

// Candidates lists the substitutes considered for target.
func (e *Engine) Candidates(target string) []string {
	return e.candidates.Candidates(target)
}

// Recommend runs the substitution search.
func (e *Engine) Recommend(ctx context.Context, req SearchRequest) ([]Recommendation, error) {
	return e.recommender.Recommend(ctx, req)
}

// directoryOrNil keeps a nil DrugDirectory from becoming a non-nil
// MetadataStore interface value.
func directoryOrNil(d DrugDirectory) MetadataStore {
	if d == nil {
		return nil
	}
	return d
}
