package search

import (
	"sort"

	"github.com/hyperjump/shashin/internal/models"
)

// CombineScores fuses a face similarity and an activity similarity with the
// configured weights. Both inputs are cosine similarities over the same
// normalized embedding space, so no per-query renormalization is applied:
// absolute thresholds keep their meaning across queries.
func CombineScores(faceSim, activitySim, faceWeight, activityWeight float64) float64 {
	return faceWeight*faceSim + activityWeight*activitySim
}

// sortMatches orders matches by descending primary score with ascending image
// path as the tie-break, then assigns 1-based ranks. score selects the
// primary score for a match.
func sortMatches(matches []*models.PhotoMatch, score func(*models.PhotoMatch) float64) {
	sort.Slice(matches, func(i, j int) bool {
		si, sj := score(matches[i]), score(matches[j])
		if si != sj {
			return si > sj
		}
		return matches[i].ImagePath < matches[j].ImagePath
	})
	for i, m := range matches {
		m.Rank = i + 1
	}
}
