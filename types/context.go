package types

import (
	"strings"

	"github.com/google/uuid"
)

// RequestContext carries the caller's identity through an image API request.
// It is translated to the X-Auth-Token / X-User-Id / X-Tenant-Id / X-Roles
// identity headers on every outgoing request.
type RequestContext struct {
	AuthToken string
	UserID    string
	ProjectID string
	Roles     []string
	IsAdmin   bool

	// RequestID tags every request made under this context, for cross-service
	// log correlation. NewRequestContext generates one.
	RequestID string
}

// NewRequestContext returns a RequestContext for the given identity with a
// fresh request ID.
func NewRequestContext(userID, projectID string, roles ...string) *RequestContext {
	c := &RequestContext{
		UserID:    userID,
		ProjectID: projectID,
		Roles:     roles,
		RequestID: "req-" + uuid.New().String(),
	}
	for _, r := range roles {
		if strings.EqualFold(r, "admin") {
			c.IsAdmin = true
			break
		}
	}
	return c
}

// Elevated returns a copy of the context with admin rights.
func (c *RequestContext) Elevated() *RequestContext {
	elevated := *c
	elevated.IsAdmin = true
	for _, r := range elevated.Roles {
		if strings.EqualFold(r, "admin") {
			return &elevated
		}
	}
	elevated.Roles = append(append([]string{}, c.Roles...), "admin")
	return &elevated
}
