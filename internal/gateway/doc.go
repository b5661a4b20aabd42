// Package gateway serves the agentdrop HTTP API.
//
// # Overview
//
// The Gateway wires the store, key registry, replay ledger, grant authority
// and authentication middleware together behind one net/http server. New
// opens everything from config; Run serves until its context is canceled and
// then shuts down with a five second grace period.
//
// # HTTP API
//
// Keys (human session required except pubkey):
//
//	POST   /api/keys              register a public key (JWK or ssh-ed25519)
//	GET    /api/keys              list the caller's keys
//	DELETE /api/keys/{id}         revoke a key
//	GET    /api/keys/{id}/pubkey  public key and key hash (public)
//	GET    /api/keys/{id}/audit   audit entries for a key
//
// Grants (human or agent):
//
//	POST   /api/grant             grant a key access to an owned file
//	DELETE /api/grant/{id}        revoke a grant (grantor only)
//	GET    /api/grants/received   grants addressed to the calling agent
//	GET    /api/grants/file/{id}  grants on an owned file
//
// Files (human or agent):
//
//	POST   /api/upload            declare a pending file
//	POST   /api/upload/confirm    confirm with its sha256
//	GET    /api/files             list owned files
//	GET    /api/files/{id}        one owned file
//	DELETE /api/files/{id}        soft delete
//	GET    /api/files/{id}/download[?token=]
//
// Public:
//
//	GET /.well-known/jwks.json    grant verification key
//	GET /health
//
// # Errors
//
// Every error body is {"error": message, "code": CODE}. Authentication
// failures are a generic 401 whatever the underlying reason; the reason is
// only logged.
package gateway
