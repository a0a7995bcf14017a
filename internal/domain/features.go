package domain

import (
	"fmt"
	"math"
)

// Feature names a normalised per-account feature. The names double as the
// property names written to the store.
type Feature string

// Topological features
const (
	FeatureDegree            Feature = "degScore"
	FeaturePageRank          Feature = "prScore"
	FeatureBetweenness       Feature = "btwScore"
	FeatureHub               Feature = "hubScore"
	FeatureAuthority         Feature = "authScore"
	FeatureCore              Feature = "coreScore"
	FeatureTriangles         Feature = "triCount"
	FeatureCycles            Feature = "cycleCount"
	FeatureSimilarity        Feature = "simScore"
	FeatureNormCommunitySize Feature = "normCommunitySize"
)

// Temporal features
const (
	FeatureTxVelocity       Feature = "txVelocity"
	FeatureAmountVolatility Feature = "amountVolatility"
	FeatureMaxAmountRatio   Feature = "maxAmountRatio"
	FeatureTempBurst        Feature = "tempBurst"
	FeatureStdTimeBetweenTx Feature = "stdTimeBetweenTx"
)

// AllFeatures is the recognised weight key set, in a fixed order.
var AllFeatures = []Feature{
	FeatureDegree,
	FeaturePageRank,
	FeatureBetweenness,
	FeatureHub,
	FeatureAuthority,
	FeatureCore,
	FeatureTriangles,
	FeatureCycles,
	FeatureSimilarity,
	FeatureNormCommunitySize,
	FeatureTxVelocity,
	FeatureAmountVolatility,
	FeatureMaxAmountRatio,
	FeatureTempBurst,
	FeatureStdTimeBetweenTx,
}

// NormalizedFeatures are min-max scaled across accounts. normCommunitySize is
// already scaled across communities and is left out.
var NormalizedFeatures = []Feature{
	FeatureDegree,
	FeaturePageRank,
	FeatureBetweenness,
	FeatureHub,
	FeatureAuthority,
	FeatureCore,
	FeatureTriangles,
	FeatureCycles,
	FeatureSimilarity,
	FeatureTxVelocity,
	FeatureAmountVolatility,
	FeatureMaxAmountRatio,
	FeatureTempBurst,
	FeatureStdTimeBetweenTx,
}

// RawProperty is the property that keeps a feature's pre-normalisation value.
func (f Feature) RawProperty() string {
	return string(f) + "Raw"
}

// Weights is the fixed weight record over AllFeatures. NormCommunitySize
// weights the inverted term (1 - normCommunitySize).
type Weights struct {
	DegScore          float64 `yaml:"degScore" json:"degScore"`
	PRScore           float64 `yaml:"prScore" json:"prScore"`
	BtwScore          float64 `yaml:"btwScore" json:"btwScore"`
	HubScore          float64 `yaml:"hubScore" json:"hubScore"`
	AuthScore         float64 `yaml:"authScore" json:"authScore"`
	CoreScore         float64 `yaml:"coreScore" json:"coreScore"`
	TriCount          float64 `yaml:"triCount" json:"triCount"`
	CycleCount        float64 `yaml:"cycleCount" json:"cycleCount"`
	SimScore          float64 `yaml:"simScore" json:"simScore"`
	NormCommunitySize float64 `yaml:"normCommunitySize" json:"normCommunitySize"`
	TxVelocity        float64 `yaml:"txVelocity" json:"txVelocity"`
	AmountVolatility  float64 `yaml:"amountVolatility" json:"amountVolatility"`
	MaxAmountRatio    float64 `yaml:"maxAmountRatio" json:"maxAmountRatio"`
	TempBurst         float64 `yaml:"tempBurst" json:"tempBurst"`
	StdTimeBetweenTx  float64 `yaml:"stdTimeBetweenTx" json:"stdTimeBetweenTx"`
}

// WeightSumTolerance is how far the weights may drift from 1.0.
const WeightSumTolerance = 0.01

// DefaultWeights returns the baseline weight profile.
func DefaultWeights() Weights {
	return Weights{
		DegScore:          0.38,
		MaxAmountRatio:    0.12,
		HubScore:          0.10,
		NormCommunitySize: 0.10,
		TempBurst:         0.08,
		PRScore:           0.03,
		CycleCount:        0.03,
		BtwScore:          0.02,
		AuthScore:         0.02,
		CoreScore:         0.02,
		TriCount:          0.02,
		SimScore:          0.02,
		TxVelocity:        0.02,
		AmountVolatility:  0.02,
		StdTimeBetweenTx:  0.02,
	}
}

// Get returns the weight for a feature.
func (w Weights) Get(f Feature) float64 {
	switch f {
	case FeatureDegree:
		return w.DegScore
	case FeaturePageRank:
		return w.PRScore
	case FeatureBetweenness:
		return w.BtwScore
	case FeatureHub:
		return w.HubScore
	case FeatureAuthority:
		return w.AuthScore
	case FeatureCore:
		return w.CoreScore
	case FeatureTriangles:
		return w.TriCount
	case FeatureCycles:
		return w.CycleCount
	case FeatureSimilarity:
		return w.SimScore
	case FeatureNormCommunitySize:
		return w.NormCommunitySize
	case FeatureTxVelocity:
		return w.TxVelocity
	case FeatureAmountVolatility:
		return w.AmountVolatility
	case FeatureMaxAmountRatio:
		return w.MaxAmountRatio
	case FeatureTempBurst:
		return w.TempBurst
	case FeatureStdTimeBetweenTx:
		return w.StdTimeBetweenTx
	default:
		return 0
	}
}

// Sum adds all weights.
func (w Weights) Sum() float64 {
	total := 0.0
	for _, f := range AllFeatures {
		total += w.Get(f)
	}
	return total
}

// Validate checks that weights are non-negative and sum to ~1.0.
func (w Weights) Validate() error {
	for _, f := range AllFeatures {
		if v := w.Get(f); v < 0 || math.IsNaN(v) {
			return &ConfigError{Field: "weights." + string(f), Reason: fmt.Sprintf("must be >= 0, got %v", v)}
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > WeightSumTolerance {
		return &ConfigError{Field: "weights", Reason: fmt.Sprintf("must sum to 1.0, got %.4f", sum)}
	}
	return nil
}

// Account-level derived properties beyond the features.
const (
	PropCommunityID          = "communityId"
	PropCommunitySize        = "communitySize"
	PropBurstScore           = "burstScore"
	PropNewAccountScore      = "newAccountScore"
	PropPassthroughScore     = "passthroughScore"
	PropSplitScore           = "splitScore"
	PropMergeScore           = "mergeScore"
	PropCyclingScore         = "institutionalCyclingScore"
	PropMuleChainScore       = "muleChainScore"
	PropAdvancedPatternScore = "advancedPatternScore"
	PropAdvancedAnomaly      = "advancedAnomalyScore"
	PropAnomalyScore         = "anomaly_score"
	PropSuspicious           = "suspicious"
	PropOutCount             = "outCount"
)

// Transfer-level derived properties.
const (
	PropHybridScore         = "hybrid_score"
	PropEnhancedHybridScore = "enhancedHybridScore"
	PropFlagged             = "flagged"
	PropBaselineFlagged     = "baseline_flagged"
	PropConfidence          = "confidence"
	PropConfidenceTier      = "confidence_tier"
	PropFlagReason          = "flag_reason"
	PropDetectionRule       = "detection_rule"
	PropFilterReason        = "filter_reason"
)

// DetectorProperties lists the per-detector account scores.
var DetectorProperties = []string{
	PropBurstScore,
	PropNewAccountScore,
	PropPassthroughScore,
	PropSplitScore,
	PropMergeScore,
	PropCyclingScore,
	PropMuleChainScore,
}

// DerivedAccountProperties lists every property the pipeline may write on
// accounts.
func DerivedAccountProperties() []string {
	props := make([]string, 0, 2*len(AllFeatures)+len(DetectorProperties)+8)
	for _, f := range AllFeatures {
		props = append(props, string(f))
	}
	for _, f := range NormalizedFeatures {
		props = append(props, f.RawProperty())
	}
	props = append(props, DetectorProperties...)
	return append(props,
		PropCommunityID,
		PropCommunitySize,
		PropAdvancedPatternScore,
		PropAdvancedAnomaly,
		PropAnomalyScore,
		PropSuspicious,
		PropOutCount,
	)
}

// DerivedTransferProperties lists every property the pipeline may write on
// transfers.
func DerivedTransferProperties() []string {
	return []string{
		PropAnomalyScore,
		PropAdvancedPatternScore,
		PropEnhancedHybridScore,
		PropHybridScore,
		PropFlagged,
		PropBaselineFlagged,
		PropConfidence,
		PropConfidenceTier,
		PropFlagReason,
		PropDetectionRule,
		PropFilterReason,
	}
}
