// Package client implements the agent side of the mesh: a typed HTTP
// client for the coordinator API and the Agent run loop that keeps a
// registration alive, polls for messages, and answers them through the
// completion gateway.
//
// Retry policy is driven by the coordinator's error kinds: terminal
// failures (validation, not_found, conflict) abort or trigger
// re-registration, while transient ones back off exponentially up to a
// cap. The poll cursor and session token are persisted under the agent's
// data directory so a restarted process resumes where it left off.
package client
