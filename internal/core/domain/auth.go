package domain

// TokenClaims is the identity carried by a bearer token.
// The tenant and role in the claims are the request's search scope.
type TokenClaims struct {
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	Role      int    `json:"role"`
	Admin     bool   `json:"admin,omitempty"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// Scope returns the search scope granted by the claims
func (c *TokenClaims) Scope() Scope {
	return Scope{TenantID: c.TenantID, Role: c.Role}
}
