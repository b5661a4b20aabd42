// Package auth authenticates agentdrop requests.
//
// # Principals
//
// Every authenticated request resolves to exactly one Principal:
//
//   - Human: a user holding an HS256 session token (Authorization: Bearer).
//   - Agent: a registered Ed25519 key that signed the request.
//
// # Strategy Pipeline
//
// An Authenticator holds an ordered list of strategies. The first strategy
// whose credentials appear on the request decides the outcome; a failure
// never falls through to the next strategy. The gateway orders the agent
// strategy first, so any request carrying a signing header is judged as a
// signed request.
//
// # Agent Verification
//
// AgentVerifier runs, in order and short-circuiting:
//
//  1. all four X-AgentDrop-* headers present
//  2. |now - timestamp| within tolerance (default 5m)
//  3. key hash resolves to an active key
//  4. signature over METHOD\nPATH\nTIMESTAMP\nNONCE\nBODYHASH
//  5. nonce consumed in the replay ledger
//
// # Errors
//
// Rejections are *Error values carrying a Code. The HTTP middleware logs the
// code and reason at WARN and answers a generic 401, so callers cannot tell an
// unknown key from a bad signature. Backend failures map to 503.
package auth
