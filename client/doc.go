// Package client manages the session on the client side of RosterHub.
//
// A Manager is a small state machine:
//
//	Unauthenticated -> Authenticating -> Authenticated -> Validating -> Refreshing
//	                                          ^               |            |
//	                                          +---------------+------------+
//
// Every state may fall back to Unauthenticated on teardown. A persisted
// session is trusted on Load and validated in the background, then
// re-validated every 15 minutes. A failed validation gets exactly one
// refresh; a failed refresh signs the user out with a "session expired"
// notification.
//
// Sign-in, sign-up and the Google OAuth callback are single-flight: a second
// attempt while one is pending, or while a sign-out is outstanding, fails
// with authsession.ErrAuthInProgress without reaching the network. Sign-in,
// sign-up and the password reset flow consult rate limiters first.
//
// Sign-out wins over background work. Each teardown or new sign-in bumps a
// generation counter, and a validation or refresh response carrying an older
// generation is discarded.
//
// HTTPAuthAPI implements AuthAPI against the RosterHub Auth API, whose
// endpoints all answer with the {success, data, message} envelope.
package client
