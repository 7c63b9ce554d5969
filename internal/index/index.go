package index

import (
	"context"
	"errors"
)

// ErrUnavailable reports that the index backend cannot be reached. Callers
// fall back to non-semantic candidate generation instead of treating an empty
// result as a real answer.
var ErrUnavailable = errors.New("index unavailable")

// MetricCosine is the only similarity metric this deployment uses.
const MetricCosine = "cosine"

// CollectionConfig pins the similarity metric and vector dimensionality
// shared by every writer and reader of a deployment. Construct it through
// NewCollectionConfig only, so a writer and a reader can never disagree.
type CollectionConfig struct {
	Metric     string
	Dimensions int
}

// NewCollectionConfig is the single factory for collection parameters.
func NewCollectionConfig(dimensions int) CollectionConfig {
	return CollectionConfig{Metric: MetricCosine, Dimensions: dimensions}
}

// Metadata travels with each indexed vector and drives query filters.
type Metadata struct {
	Role         string
	TranscriptID string
	Position     int
	ContextIDs   []string
}

// Filter restricts a query to vectors whose metadata matches. Zero fields
// match everything.
type Filter struct {
	Role         string
	TranscriptID string
}

// Result is one query hit. Similarity is in [0, 1], higher is closer.
type Result struct {
	ID         string
	Similarity float64
}

// Index is a persisted vector store keyed by utterance id. Upsert replaces
// any existing vector for the id.
type Index interface {
	Upsert(ctx context.Context, id string, vector []float32, meta Metadata) error
	Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Result, error)
}

func (f Filter) Matches(meta Metadata) bool {
	if f.Role != "" && f.Role != meta.Role {
		return false
	}
	if f.TranscriptID != "" && f.TranscriptID != meta.TranscriptID {
		return false
	}
	return true
}
