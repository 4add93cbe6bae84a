// Package auth implements credential and session handling for the portal
// roles: member, leader, participant and admin.
//
// Sessions:
//   - TokenService issues HS256 JWTs carrying the subject id and role.
//     SessionValidator parses them and re-reads the account status on every
//     call, so an approval or rejection applies to the next request without
//     revoking tokens.
//   - RoleGate is the single access predicate. RouteAuthenticator chains
//     token lookup, validation and the gate in front of fiber handlers.
//
// Password recovery:
//   - ResetManager mints single use reset tokens. Only their SHA-256 hash is
//     stored, a new request supersedes older live tokens for the account, and
//     consumption sets the new password in the same transaction that marks the
//     token consumed.
//
// Account lifecycle:
//   - AccountStateMachine moves accounts through pending, approved, active and
//     rejected. Rejected is terminal.
//
// Activity sinks:
//   - ActivitySink receives login, password reset and status change events.
//     Sinks run best-effort, errors are logged and never fail the caller.
package auth
