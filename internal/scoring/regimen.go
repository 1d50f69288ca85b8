package scoring

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Bucket is the weighting class a severity label falls into.
type Bucket int

const (
	BucketUnknown Bucket = iota
	BucketModerate
	BucketSevere
)

// Points is the weight a pair in this bucket contributes to the raw score.
func (b Bucket) Points() int {
	switch b {
	case BucketSevere:
		return 3
	case BucketModerate:
		return 2
	default:
		return 1
	}
}

func (b Bucket) String() string {
	switch b {
	case BucketSevere:
		return "severe"
	case BucketModerate:
		return "moderate"
	default:
		return "unknown"
	}
}

const maxPointsPerPair = 3

// BucketFor maps a classifier label to a bucket. Matching is a
// case-insensitive substring test with severe taking precedence over moderate.
func BucketFor(label string) Bucket {
	lower := strings.ToLower(label)
	switch {
	case strings.Contains(lower, "severe"):
		return BucketSevere
	case strings.Contains(lower, "moderate"):
		return BucketModerate
	default:
		return BucketUnknown
	}
}

// PairAssessment is the severity predicted for one unordered pair.
type PairAssessment struct {
	Drug1ID  string `json:"drug1_id"`
	Drug2ID  string `json:"drug2_id"`
	Severity string `json:"severity"`
}

// Assessment is the aggregated risk of a regimen.
type Assessment struct {
	RiskScore     float64          `json:"risk_score"`
	TotalPairs    int              `json:"total_pairs"`
	SeverePairs   int              `json:"severe_pairs"`
	ModeratePairs int              `json:"moderate_pairs"`
	UnknownPairs  int              `json:"unknown_pairs"`
	Details       []PairAssessment `json:"details"`
}

// Profile carries optional patient attributes used for personalization.
type Profile struct {
	Age *int
	Sex string
}

// ParseAge converts a loosely typed age into an int. Values that are not
// numeric yield nil so personalization is skipped.
func ParseAge(v any) *int {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		// Strings are decimal; cast would read "070" as octal and accept hex.
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		age, err := strconv.Atoi(s)
		if err != nil {
			return nil
		}
		return &age
	}
	age, err := cast.ToIntE(v)
	if err != nil {
		return nil
	}
	return &age
}

// tally accumulates bucket counts.
type tally struct {
	severe   int
	moderate int
	unknown  int
}

func (t *tally) add(b Bucket) {
	switch b {
	case BucketSevere:
		t.severe++
	case BucketModerate:
		t.moderate++
	default:
		t.unknown++
	}
}

func (t tally) plus(o tally) tally {
	return tally{severe: t.severe + o.severe, moderate: t.moderate + o.moderate, unknown: t.unknown + o.unknown}
}

func (t tally) total() int {
	return t.severe + t.moderate + t.unknown
}

// score returns the bounded, rounded risk score for the tally.
func (t tally) score(profile Profile) float64 {
	maxPoints := float64(t.total() * maxPointsPerPair)
	points := float64(t.severe*BucketSevere.Points() + t.moderate*BucketModerate.Points() + t.unknown*BucketUnknown.Points())

	risk := 0.0
	if maxPoints > 0 {
		risk = points / maxPoints * 100
	}
	risk = personalize(risk, profile)
	return round2(clamp(risk, 0, 100))
}

func personalize(risk float64, profile Profile) float64 {
	if profile.Age != nil {
		switch age := *profile.Age; {
		case age >= 65:
			risk *= 1.2
		case age <= 18:
			risk *= 1.1
		}
	}
	if strings.EqualFold(strings.TrimSpace(profile.Sex), "F") {
		risk *= 1.05
	}
	return risk
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Aggregator turns pairwise severity predictions into a regimen risk score.
type Aggregator struct {
	predictor PairPredictor
}

// NewAggregator returns an aggregator backed by the given predictor.
func NewAggregator(predictor PairPredictor) (*Aggregator, error) {
	if predictor == nil {
		return nil, fmt.Errorf("%w: pair predictor", ErrMissingDependency)
	}
	return &Aggregator{predictor: predictor}, nil
}

// Assess scores the regimen. Duplicate ids are ignored; fewer than two
// distinct drugs yields a zero assessment.
func (a *Aggregator) Assess(regimen []string, profile Profile) Assessment {
	drugs := distinct(regimen)
	if len(drugs) < 2 {
		return Assessment{Details: []PairAssessment{}}
	}

	var t tally
	details := make([]PairAssessment, 0, len(drugs)*(len(drugs)-1)/2)
	for i := 0; i < len(drugs); i++ {
		for j := i + 1; j < len(drugs); j++ {
			label, _ := a.predictor.PredictPair(drugs[i], drugs[j])
			t.add(BucketFor(label))
			details = append(details, PairAssessment{Drug1ID: drugs[i], Drug2ID: drugs[j], Severity: label})
		}
	}
	return t.assessment(profile, details)
}

// tallyNew classifies only the pairs formed between drug and each member of
// base.
func (a *Aggregator) tallyNew(base []string, drug string) tally {
	var t tally
	for _, other := range base {
		label, _ := a.predictor.PredictPair(other, drug)
		t.add(BucketFor(label))
	}
	return t
}

func (a *Aggregator) tallyAll(drugs []string) tally {
	var t tally
	for i := 0; i < len(drugs); i++ {
		for j := i + 1; j < len(drugs); j++ {
			label, _ := a.predictor.PredictPair(drugs[i], drugs[j])
			t.add(BucketFor(label))
		}
	}
	return t
}

func (t tally) assessment(profile Profile, details []PairAssessment) Assessment {
	if details == nil {
		details = []PairAssessment{}
	}
	return Assessment{
		RiskScore:     t.score(profile),
		TotalPairs:    t.total(),
		SeverePairs:   t.severe,
		ModeratePairs: t.moderate,
		UnknownPairs:  t.unknown,
		Details:       details,
	}
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
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
