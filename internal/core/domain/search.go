package domain

import (
	"strings"
)

// Scope is the isolation boundary carried by every index read and write
type Scope struct {
	TenantID string `json:"tenant_id"`
	Role     int    `json:"role"`
}

// Validate rejects incomplete scopes. A scope is never defaulted to "all tenants".
func (s Scope) Validate() error {
	if strings.TrimSpace(s.TenantID) == "" {
		return NewScopeViolation("scope", "tenant_id is required")
	}
	if s.Role <= 0 {
		return NewScopeViolation("scope", "role is required")
	}
	return nil
}

// SparseVector is a weighted term vector
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// Len returns the number of non-zero entries
func (s SparseVector) Len() int {
	return len(s.Indices)
}

// Vectors holds the dense and sparse representation of one text
type Vectors struct {
	Dense  []float32    `json:"dense"`
	Sparse SparseVector `json:"sparse"`
}

// Point is a chunk ready to be written to the vector index
type Point struct {
	ID      string      `json:"id"`
	Vectors Vectors     `json:"vectors"`
	Payload ChunkRecord `json:"payload"`
}

// NewPoint builds the point for a chunk using its deterministic ID
func NewPoint(chunk ChunkRecord, vectors Vectors) Point {
	id := chunk.ChunkID
	if id == "" {
		id = PointID(chunk.TenantID, chunk.SourceFile, chunk.Ordinal)
	}
	return Point{ID: id, Vectors: vectors, Payload: chunk}
}

// RankSource identifies which signal ranked a candidate
type RankSource string

const (
	RankDense  RankSource = "dense"
	RankSparse RankSource = "sparse"
	RankFused  RankSource = "fused"
	RankRerank RankSource = "rerank"
)

// Candidate is a retrieval result. It is produced per query and never persisted.
type Candidate struct {
	ID     string      `json:"id"`
	Chunk  ChunkRecord `json:"chunk"`
	Score  float64     `json:"score"`
	Source RankSource  `json:"source"`
}

// SearchOptions tunes a hybrid search
type SearchOptions struct {
	// Limit is the number of fused results to return (k)
	Limit int

	// PrefetchMultiplier sizes each prefetch sub-query as Limit * PrefetchMultiplier
	PrefetchMultiplier int

	// RRFConstant is the rank offset in 1/(rank + constant)
	RRFConstant int
}

// DefaultSearchOptions returns the standard hybrid search settings
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Limit:              20,
		PrefetchMultiplier: 2,
		RRFConstant:        60,
	}
}

// PrefetchLimit returns the size of each prefetch sub-query
func (o SearchOptions) PrefetchLimit() int {
	m := o.PrefetchMultiplier
	if m <= 0 {
		m = 2
	}
	return o.Limit * m
}
