package models

// FaceHit is one matching face within a photo.
type FaceHit struct {
	BBox       BBox    `json:"bbox"`
	Similarity float64 `json:"similarity"`
}

// PhotoMatch is a single ranked photo result. FaceSimilarity is populated by
// identity queries, Similarity by semantic-only queries, and
// ActivitySimilarity / CombinedScore only by identity+activity queries
// (CombinedScore exists only when both component scores exist).
type PhotoMatch struct {
	ImagePath          string    `json:"image_path"`
	FaceSimilarity     float64   `json:"face_similarity,omitempty"`
	Similarity         float64   `json:"similarity,omitempty"`
	ActivitySimilarity *float64  `json:"activity_similarity,omitempty"`
	CombinedScore      *float64  `json:"combined_score,omitempty"`
	Faces              []FaceHit `json:"faces,omitempty"`
	Rank               int       `json:"rank"`
}

// SearchResponse wraps a ranked result list with query metadata.
type SearchResponse struct {
	Matches   []*PhotoMatch `json:"matches"`
	Total     int           `json:"total"`
	QueryTime int64         `json:"query_time_ms"`
	// SkippedCandidates counts candidates dropped because their source image
	// could no longer be read at activity-scoring time.
	SkippedCandidates int `json:"skipped_candidates,omitempty"`
}
