// Package realtime pushes coordinator events (agent state transitions,
// message routing) to WebSocket subscribers such as dashboards.
package realtime
