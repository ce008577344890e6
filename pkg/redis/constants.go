package redis

import "time"

// Namespaces define the top-level key prefixes for different kinds of data.
const (
	NamespacePending   = "pending"   // Staged contributions awaiting review
	NamespaceKnowledge = "knowledge" // Current overrides and their history
	NamespaceAudit     = "audit"     // Append-only audit trail
	NamespaceLock      = "lock"      // Distributed locks
	NamespaceRate      = "rate"      // Rate limit windows
)

// Contexts define the second-level key prefix. Everything in this service
// lives under the curator context so keys from other tenants of the shared
// store cannot collide with ours.
const (
	ContextCurator = "curator"
)

// TTL constants for ephemeral and retention-bounded data.
const (
	TTLPending   = 7 * 24 * time.Hour // Abandoned contributions self-clean
	TTLLock      = 30 * time.Second   // Bounds the blast radius of a crashed holder
	TTLRateLimit = 1 * time.Minute    // Default rate limit window
)
