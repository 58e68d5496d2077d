// ABOUTME: Liveness state machine for registered agents
// ABOUTME: Defines the registering/healthy/degraded/unreachable/deregistered cycle

package registry

// State is the liveness state of a registered agent.
//
// The cycle is registering → healthy → degraded → unreachable, with
// degraded returning to healthy on a successful heartbeat. Unreachable
// and deregistered are terminal until a fresh registration restarts the
// cycle.
type State string

const (
	StateRegistering  State = "registering"
	StateHealthy      State = "healthy"
	StateDegraded     State = "degraded"
	StateUnreachable  State = "unreachable"
	StateDeregistered State = "deregistered"
)

// active reports whether the state counts as a live registration for
// routing purposes. Unreachable agents stay addressable: messages to
// them are retained until the retention window expires.
func (s State) active() bool {
	switch s {
	case StateRegistering, StateHealthy, StateDegraded, StateUnreachable:
		return true
	default:
		return false
	}
}
