// Package ctxkeys holds the context keys shared by the server middleware
// and the services behind it.
package ctxkeys

// Key is the type for all context keys in the application.
// Using a dedicated type prevents collisions with keys from other packages.
type Key string

const (
	// Request-scoped keys
	KeyRequestID Key = "request_id"
	KeyDatabase  Key = "database"

	// Auth-scoped keys
	KeyClaims Key = "claims"
)
