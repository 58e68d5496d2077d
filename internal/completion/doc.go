// Package completion wraps the external language-model completion service.
//
// The gateway strips @name addressing tokens before forwarding, so the
// service only sees natural-language content. When the credential is
// missing or rejected, or the service is unreachable, callers receive a
// deterministic degraded result instead of an error: degraded results are
// valid but lower-confidence. Authentication failures are never retried;
// transient network failures are retried exactly once.
package completion
