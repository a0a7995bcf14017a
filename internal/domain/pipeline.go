package domain

// FilterMode selects how aggressively the refiner drops weak flags.
type FilterMode string

const (
	ModePrecision FilterMode = "precision"
	ModeRecall    FilterMode = "recall"
	ModeBalanced  FilterMode = "balanced"
)

// ParseFilterMode validates a mode name.
func ParseFilterMode(s string) (FilterMode, error) {
	switch FilterMode(s) {
	case ModePrecision, ModeRecall, ModeBalanced:
		return FilterMode(s), nil
	default:
		return "", &ConfigError{Field: "mode", Reason: "must be precision, recall or balanced, got " + s}
	}
}

// PipelineConfig is the scoring pipeline configuration surface.
type PipelineConfig struct {
	// Weights over normalised account features. Must sum to ~1.0.
	Weights Weights `yaml:"weights" json:"weights"`

	// AdvancedWeights optionally produces a second account-level score that
	// the hybrid fusion blends with the baseline.
	AdvancedWeights *Weights `yaml:"advancedWeights,omitempty" json:"advancedWeights,omitempty"`

	// Percentile is the baseline flag cutoff in [0,1].
	Percentile float64 `yaml:"percentile" json:"percentile" validate:"gte=0,lte=1"`

	// BatchSize bounds every batched write.
	BatchSize int `yaml:"batchSize" json:"batchSize" validate:"gt=0"`

	Features FeatureConfig `yaml:"features" json:"features"`
	Patterns PatternConfig `yaml:"patterns" json:"patterns"`
	Hybrid   HybridConfig  `yaml:"hybrid" json:"hybrid"`
	Refiner  RefinerConfig `yaml:"refiner" json:"refiner"`
}

// FeatureConfig tunes the graph analytics.
type FeatureConfig struct {
	PageRankDamping       float64 `yaml:"pageRankDamping" json:"pageRankDamping" validate:"gt=0,lt=1"`
	PageRankIterations    int     `yaml:"pageRankIterations" json:"pageRankIterations" validate:"gt=0"`
	HITSIterations        int     `yaml:"hitsIterations" json:"hitsIterations" validate:"gt=0"`
	LouvainTolerance      float64 `yaml:"louvainTolerance" json:"louvainTolerance" validate:"gt=0"`
	LouvainIterations     int     `yaml:"louvainIterations" json:"louvainIterations" validate:"gt=0"`
	BetweennessSampleSize int     `yaml:"betweennessSampleSize" json:"betweennessSampleSize" validate:"gte=0"`
	SimilarityTopK        int     `yaml:"similarityTopK" json:"similarityTopK" validate:"gte=1"`
	SimilarityCutoff      float64 `yaml:"similarityCutoff" json:"similarityCutoff" validate:"gte=0,lte=1"`
	SimilarityMaxPairs    int     `yaml:"similarityMaxPairs" json:"similarityMaxPairs" validate:"gte=0"`
	CycleStepWindow       int     `yaml:"cycleStepWindow" json:"cycleStepWindow" validate:"gte=0"`
	MaxCycles             int     `yaml:"maxCycles" json:"maxCycles" validate:"gte=0"`
	MinCommunitySize      int     `yaml:"minCommunitySize" json:"minCommunitySize" validate:"gte=1"`
	BurstGap              int     `yaml:"burstGap" json:"burstGap" validate:"gte=0"`
}

// PatternConfig enables individual detectors.
type PatternConfig struct {
	Enabled     bool `yaml:"enabled" json:"enabled"`
	Burst       bool `yaml:"burst" json:"burst"`
	NewAccount  bool `yaml:"newAccount" json:"newAccount"`
	PassThrough bool `yaml:"passThrough" json:"passThrough"`
	SplitMerge  bool `yaml:"splitMerge" json:"splitMerge"`
	Cycling     bool `yaml:"cycling" json:"cycling"`
	MuleChain   bool `yaml:"muleChain" json:"muleChain"`
}

// HybridConfig holds the bonus thresholds applied on top of the fused score.
type HybridConfig struct {
	CycleThreshold       float64 `yaml:"cycleThreshold" json:"cycleThreshold"`
	CycleBonus           float64 `yaml:"cycleBonus" json:"cycleBonus"`
	PatternThreshold     float64 `yaml:"patternThreshold" json:"patternThreshold"`
	PatternBonus         float64 `yaml:"patternBonus" json:"patternBonus"`
	BurstThreshold       float64 `yaml:"burstThreshold" json:"burstThreshold"`
	TempBurstThreshold   float64 `yaml:"tempBurstThreshold" json:"tempBurstThreshold"`
	TemporalBonus        float64 `yaml:"temporalBonus" json:"temporalBonus"`
	StructuringThreshold float64 `yaml:"structuringThreshold" json:"structuringThreshold"`
	StructuringBonus     float64 `yaml:"structuringBonus" json:"structuringBonus"`
}

// TierThresholds maps confidence values to tiers.
type TierThresholds struct {
	VeryHigh float64 `yaml:"very_high" json:"very_high" validate:"gte=0,lte=1"`
	High     float64 `yaml:"high" json:"high" validate:"gte=0,lte=1"`
	Medium   float64 `yaml:"medium" json:"medium" validate:"gte=0,lte=1"`
	Low      float64 `yaml:"low" json:"low" validate:"gte=0,lte=1"`
}

// RefinerConfig holds the ensemble thresholds for confidence refinement.
type RefinerConfig struct {
	Enabled bool       `yaml:"enabled" json:"enabled"`
	Mode    FilterMode `yaml:"mode" json:"mode" validate:"oneof=precision recall balanced"`

	HighPercentile    float64 `yaml:"highPercentile" json:"highPercentile" validate:"gte=0,lte=1"`
	RecallPercentile  float64 `yaml:"recallPercentile" json:"recallPercentile" validate:"gte=0,lte=1"`
	StdDevK           float64 `yaml:"stdDevK" json:"stdDevK" validate:"gte=0"`
	ZScoreK           float64 `yaml:"zScoreK" json:"zScoreK" validate:"gte=0"`
	AbsoluteThreshold float64 `yaml:"absoluteThreshold" json:"absoluteThreshold" validate:"gte=0,lte=1"`

	Tiers TierThresholds `yaml:"tiers" json:"tiers"`

	// Pass A
	CycleThreshold              float64 `yaml:"cycleThreshold" json:"cycleThreshold"`
	DestinationPatternThreshold float64 `yaml:"destinationPatternThreshold" json:"destinationPatternThreshold"`
	StructuringThreshold        float64 `yaml:"structuringThreshold" json:"structuringThreshold"`

	// Pass B
	MultiSignalPoints   int `yaml:"multiSignalPoints" json:"multiSignalPoints" validate:"gte=1"`
	SupportSignalPoints int `yaml:"supportSignalPoints" json:"supportSignalPoints" validate:"gte=1"`

	// Pass C
	ExpansionMinConfidence float64 `yaml:"expansionMinConfidence" json:"expansionMinConfidence"`
	ExpansionStepWindow    int     `yaml:"expansionStepWindow" json:"expansionStepWindow" validate:"gte=0"`
	ExpansionFactor        float64 `yaml:"expansionFactor" json:"expansionFactor"`
	ExpansionFloor         float64 `yaml:"expansionFloor" json:"expansionFloor"`
	ExpansionCap           float64 `yaml:"expansionCap" json:"expansionCap"`

	// FilterRules replaces the built-in filter rules for the selected mode
	// when non-empty.
	FilterRules []FilterRule `yaml:"filterRules,omitempty" json:"filterRules,omitempty" validate:"dive"`
}

// FilterRule drops a flag when its expression evaluates to true.
type FilterRule struct {
	ID         string `yaml:"id" json:"id" validate:"required"`
	Expression string `yaml:"expression" json:"expression" validate:"required"`
	Reason     string `yaml:"reason" json:"reason" validate:"required"`
}

// DefaultPipelineConfig returns the documented defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Weights:    DefaultWeights(),
		Percentile: 0.99,
		BatchSize:  5000,
		Features: FeatureConfig{
			PageRankDamping:    0.85,
			PageRankIterations: 20,
			HITSIterations:     20,
			LouvainTolerance:   1e-4,
			LouvainIterations:  10,
			SimilarityTopK:     5,
			SimilarityCutoff:   0.2,
			SimilarityMaxPairs: 50000,
			CycleStepWindow:    20,
			MaxCycles:          1000000,
			MinCommunitySize:   3,
			BurstGap:           3,
		},
		Patterns: PatternConfig{
			Enabled:     true,
			Burst:       true,
			NewAccount:  true,
			PassThrough: true,
			SplitMerge:  true,
			Cycling:     true,
			MuleChain:   true,
		},
		Hybrid: HybridConfig{
			CycleThreshold:       0.8,
			CycleBonus:           0.10,
			PatternThreshold:     0.7,
			PatternBonus:         0.05,
			BurstThreshold:       0.7,
			TempBurstThreshold:   0.8,
			TemporalBonus:        0.05,
			StructuringThreshold: 0.85,
			StructuringBonus:     0.15,
		},
		Refiner: RefinerConfig{
			Enabled:           true,
			Mode:              ModeBalanced,
			HighPercentile:    0.99,
			RecallPercentile:  0.95,
			StdDevK:           3.0,
			ZScoreK:           2.5,
			AbsoluteThreshold: 0.5,
			Tiers: TierThresholds{
				VeryHigh: 0.90,
				High:     0.75,
				Medium:   0.60,
				Low:      0.0,
			},
			CycleThreshold:              0.8,
			DestinationPatternThreshold: 0.8,
			StructuringThreshold:        0.85,
			MultiSignalPoints:           4,
			SupportSignalPoints:         3,
			ExpansionMinConfidence:      0.85,
			ExpansionStepWindow:         3,
			ExpansionFactor:             0.7,
			ExpansionFloor:              0.5,
			ExpansionCap:                0.8,
		},
	}
}
