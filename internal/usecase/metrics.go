package usecase

import "time"

// MetricsSummary represents aggregated catch catalog insights.
type MetricsSummary struct {
	TotalCatches      int64      `json:"total_catches"`
	DistinctSpecies   int64      `json:"distinct_species"`
	AverageConfidence float64    `json:"average_confidence"`
	CatchesWithImage  int64      `json:"catches_with_image"`
	LatestCatchAt     *time.Time `json:"latest_catch_at,omitempty"`
}

// GetMetricsSummary aggregates catch metrics from the in-memory catalog.
func (uc *IdentifyUseCase) GetMetricsSummary() *MetricsSummary {
	records := uc.catches.List()

	summary := &MetricsSummary{TotalCatches: int64(len(records))}
	if len(records) == 0 {
		return summary
	}

	species := make(map[string]struct{}, len(records))
	var confidenceSum float64
	for _, record := range records {
		species[record.Species] = struct{}{}
		confidenceSum += record.Confidence
		if record.ImageRef != "" {
			summary.CatchesWithImage++
		}
	}

	summary.DistinctSpecies = int64(len(species))
	summary.AverageConfidence = confidenceSum / float64(len(records))

	// Records are ordered most recent first.
	latest := records[0].CaughtAt
	summary.LatestCatchAt = &latest

	return summary
}
