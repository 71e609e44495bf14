package witness

import (
	"fmt"
	"math"
	"sort"

	"github.com/Northlight-Labs/keel/pkg/contracts"
)

// Consensus tuning. Outliers are attestations farther than
// OutlierTolerance from the median; after exclusion, at least
// floor(RetainedFraction * n) of the original n must remain for the
// consensus to stand.
const (
	HighStakesWeight          = 5.0
	MinHighStakesAttestations = 2
	OutlierTolerance          = 0.2
	RetainedFraction          = 0.75
)

// ConsensusResult reports how a set of attestations collapsed to one
// outcome.
type ConsensusResult struct {
	Outcome  float64                         `json:"outcome"`
	Median   float64                         `json:"median"`
	Total    int                             `json:"total"`
	Retained []*contracts.WitnessAttestation `json:"retained"`
	Excluded []*contracts.WitnessAttestation `json:"excluded"`
}

// ComputeConsensus collapses attestations to a single outcome:
// median, outlier exclusion, then the arithmetic mean of whatever
// survived. The median of an even count averages the two middle values
// after sorting by outcome with witness id breaking ties, so every
// node computing over the same set lands on the same number.
func (e *Evaluator) ComputeConsensus(attestations []*contracts.WitnessAttestation, highStakes bool) (*ConsensusResult, error) {
	n := len(attestations)
	if n == 0 {
		return nil, fmt.Errorf("%w: no attestations", contracts.ErrInsufficientQuorum)
	}
	if highStakes && n < e.minHighStakes {
		return nil, fmt.Errorf("%w: high-stakes session has %d attestations, need %d",
			contracts.ErrInsufficientQuorum, n, e.minHighStakes)
	}

	sorted := make([]*contracts.WitnessAttestation, n)
	copy(sorted, attestations)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Attestation.Outcome != sorted[j].Attestation.Outcome {
			return sorted[i].Attestation.Outcome < sorted[j].Attestation.Outcome
		}
		return sorted[i].WitnessID < sorted[j].WitnessID
	})

	var median float64
	if n%2 == 1 {
		median = sorted[n/2].Attestation.Outcome
	} else {
		median = (sorted[n/2-1].Attestation.Outcome + sorted[n/2].Attestation.Outcome) / 2
	}

	result := &ConsensusResult{
		Median:   median,
		Total:    n,
		Retained: make([]*contracts.WitnessAttestation, 0, n),
		Excluded: []*contracts.WitnessAttestation{},
	}
	for _, att := range sorted {
		if math.Abs(att.Attestation.Outcome-median) > e.outlierTolerance {
			result.Excluded = append(result.Excluded, att)
		} else {
			result.Retained = append(result.Retained, att)
		}
	}

	needed := int(math.Floor(e.retainedFraction * float64(n)))
	if len(result.Retained) < needed {
		return nil, fmt.Errorf("%w: %d of %d attestations within tolerance, need %d",
			contracts.ErrQuorumNotReached, len(result.Retained), n, needed)
	}

	var sum float64
	for _, att := range result.Retained {
		sum += att.Attestation.Outcome
	}
	result.Outcome = sum / float64(len(result.Retained))
	return result, nil
}
