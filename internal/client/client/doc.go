// Package client is the transport of the client engine.
//
// GRPCClient talks to the sync service over gRPC with the JSON codec from
// syncproto. An interceptor attaches the access token to every call and, when
// the server reports an expired token, logs in again with the remembered
// credentials and retries the call once.
//
// # Error Handling
//
// gRPC status codes are mapped back to sentinel errors: ErrUnauthorized,
// common.ErrForbidden, common.ErrNotFound, common.ErrInvalidEntry, and
// ErrUnavailable, which matches common.ErrTransientNetwork.
package client
