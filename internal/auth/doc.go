// Package auth issues and verifies session tokens that bind an agent
// identity to the process holding its active registration, preventing
// two processes from silently colliding under one identity.
package auth
