// Package syncproto declares the sync protocol shared by client and server:
// the request and response messages, the gRPC service description carried
// over a JSON codec, the opaque pull cursor and the realtime envelopes.
package syncproto
