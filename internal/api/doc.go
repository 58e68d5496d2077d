// Package api exposes the coordinator over a local HTTP JSON transport.
//
// Every operation (register, heartbeat, deregister, listAgents, send,
// poll) returns either a success body or a typed error envelope whose
// kind distinguishes terminal failures (validation, not_found, conflict)
// from retryable ones (transient), so clients can apply the right backoff
// policy mechanically. The /health endpoint is the liveness probe for
// external supervisors; /ws/events streams coordinator events.
package api
