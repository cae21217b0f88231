package domain

import (
	"crypto/md5"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SplitMethod records which chunking stage produced a chunk
type SplitMethod string

const (
	// SplitHeader is a section cut on a markdown header
	SplitHeader SplitMethod = "header"
	// SplitRecursive is a piece of an oversize section cut on structural separators
	SplitRecursive SplitMethod = "recursive"
	// SplitMerged is two or more adjacent sections merged together
	SplitMerged SplitMethod = "merged"
	// SplitSemantic is a piece cut at an embedding-similarity breakpoint
	SplitSemantic SplitMethod = "semantic"
	// SplitFixed is a piece produced by the fixed-size fallback splitter
	SplitFixed SplitMethod = "fixed"
)

// ChunkRecord is a retrievable unit of a document.
// Content is never empty after trimming and TokenCount always reflects Content.
type ChunkRecord struct {
	ChunkID       string      `json:"chunk_id"`
	Ordinal       int         `json:"chunk_index"`
	TenantID      string      `json:"tenant_id"`
	SourceFile    string      `json:"src_file"`
	AccessedRoles []int       `json:"accessed_role"`
	Content       string      `json:"content"`
	HeaderPath    []string    `json:"header_path,omitempty"`
	TokenCount    int         `json:"token_count"`
	SplitMethod   SplitMethod `json:"split_method"`
}

// HasRole reports whether the chunk is visible to role
func (c *ChunkRecord) HasRole(role int) bool {
	for _, r := range c.AccessedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// PointID derives the deterministic point ID for a chunk position.
// The same (tenant, file, ordinal) always yields the same UUID, so re-ingestion overwrites.
func PointID(tenantID, sourceFile string, ordinal int) string {
	sum := md5.Sum([]byte(tenantID + "_" + sourceFile + "_" + strconv.Itoa(ordinal)))
	id, _ := uuid.FromBytes(sum[:])
	return id.String()
}

// DocumentInput is the upstream ingest contract
type DocumentInput struct {
	Text       string `json:"text"`
	TenantID   string `json:"tenant_id"`
	SourceFile string `json:"source_file"`
	Roles      []int  `json:"roles"`
}

// Validate checks the input before any external call
func (d *DocumentInput) Validate() error {
	if strings.TrimSpace(d.TenantID) == "" {
		return NewScopeViolation("ingest", "tenant_id is required")
	}
	if len(d.Roles) == 0 {
		return NewScopeViolation("ingest", "at least one role is required")
	}
	for _, r := range d.Roles {
		if r <= 0 {
			return NewValidationError("ingest", "role %d is not a positive integer", r)
		}
	}
	if strings.TrimSpace(d.SourceFile) == "" {
		return NewValidationError("ingest", "source_file is required")
	}
	if strings.ContainsAny(d.SourceFile, "\x00\n") {
		return NewValidationError("ingest", "source_file contains control characters")
	}
	return nil
}

// DocumentRecord is the registry entry of an ingested document
type DocumentRecord struct {
	TenantID   string    `json:"tenant_id"`
	SourceFile string    `json:"source_file"`
	Roles      []int     `json:"roles"`
	ChunkCount int       `json:"chunk_count"`
	IngestedAt time.Time `json:"ingested_at"`
}

// ParseRoles parses a comma-separated list of integer roles such as "1,2,3".
// Duplicates are removed and order is preserved.
func ParseRoles(raw string) ([]int, error) {
	var roles []int
	seen := make(map[int]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		r, err := strconv.Atoi(part)
		if err != nil {
			return nil, NewValidationError("roles", "role %q is not an integer", part)
		}
		if r <= 0 {
			return nil, NewValidationError("roles", "role %d is not a positive integer", r)
		}
		if !seen[r] {
			seen[r] = true
			roles = append(roles, r)
		}
	}
	if len(roles) == 0 {
		return nil, NewValidationError("roles", "at least one role is required")
	}
	return roles, nil
}
