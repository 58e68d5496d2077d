// Package registry tracks the set of known agents, their capability
// metadata, and their liveness state.
//
// # Registry
//
// The Registry is the only writer of agent liveness state:
//
//	reg := registry.New(issuer, hub, logger)
//
// Key operations:
//
//   - Register(id, capabilities, owner, token): create or refresh a registration
//   - Heartbeat(id): refresh liveness, promoting degraded agents back to healthy
//   - List(filter): snapshot of agents ordered by registration time
//   - Deregister(id): idempotent removal from active duty
//
// Registering an identity that is currently healthy requires the session
// token minted by the previous registration, so two processes cannot
// silently collide under one identity.
//
// # Liveness
//
// Agents decay one state per monitor cycle and never skip states:
//
//	registering → healthy → degraded → unreachable
//
// A single successful heartbeat returns a degraded agent to healthy.
// Unreachable is terminal until a fresh registration restarts the cycle.
// The Monitor applies this decay on a fixed period and guards against
// overlapping its own cycles.
package registry
