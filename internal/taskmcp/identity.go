package taskmcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
)

// LocalIdentity is the caller identity used when no session is attached to
// the request context, which is the case over stdio.
const LocalIdentity = "local"

// IdentityFunc resolves the caller identity a request runs under. Tasks are
// only visible to the identity that created them.
type IdentityFunc func(ctx context.Context) string

// SessionIdentity derives the identity from the MCP session. Every HTTP
// session gets its own task namespace; stdio collapses to LocalIdentity,
// which is fine because stdio has exactly one peer.
func SessionIdentity(ctx context.Context) string {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		if id := session.SessionID(); id != "" {
			return id
		}
	}
	return LocalIdentity
}
