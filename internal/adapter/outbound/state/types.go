// Package state provides file-based persistence for inkgate runtime state.
//
// The state.json file stores what the agent must remember across restarts:
// when the policy was last checked and the recent quota occurrences. This
// package provides atomic writes, file locking, and backup functionality.
package state

import "time"

// SchemaVersion is the current state.json schema version.
const SchemaVersion = "1"

// AppState is the top-level structure persisted in state.json.
type AppState struct {
	// Version is the schema version for forward compatibility. Currently "1".
	Version string `json:"version"`

	// LastPolicyCheck is when the policy documents were last checked for
	// updates. Nil if never.
	LastPolicyCheck *time.Time `json:"last_policy_check,omitempty"`

	// PolicyHashes maps document name to the hash of the cached bytes at the
	// last check. Informational; the cache files are authoritative.
	PolicyHashes map[string]string `json:"policy_hashes,omitempty"`

	// QuotaLog maps a quota key ("quota:kind[:scope]") to its occurrence
	// timestamps, oldest first.
	QuotaLog map[string][]time.Time `json:"quota_log"`

	// CreatedAt is when the state file was first created (UTC).
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the state file was last modified (UTC).
	UpdatedAt time.Time `json:"updated_at"`
}
