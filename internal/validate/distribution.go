package validate

import (
	"math"

	"github.com/sells-group/venue-fusion/internal/model"
)

// Distribution summarizes a set of touristiness scores.
type Distribution struct {
	N      int
	Mean   float64
	StdDev float64
}

// DistributionOf computes the population mean and standard deviation.
func DistributionOf(scores []float64) Distribution {
	d := Distribution{N: len(scores)}
	if d.N == 0 {
		return d
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	d.Mean = sum / float64(d.N)
	var sq float64
	for _, s := range scores {
		sq += (s - d.Mean) * (s - d.Mean)
	}
	d.StdDev = math.Sqrt(sq / float64(d.N))
	return d
}

// CorpusBaseline is the distribution of existing corpus scores in a city.
// Venues without a corpus score are skipped.
func CorpusBaseline(venues []model.Venue) Distribution {
	scores := make([]float64, 0, len(venues))
	for _, v := range venues {
		if v.CorpusScore != nil {
			scores = append(scores, *v.CorpusScore)
		}
	}
	return DistributionOf(scores)
}
