// Package common contains shared constants and sentinel errors used across
// entrysync components.
package common

// AccessTokenHeaderName is the gRPC/HTTP metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// DeviceIDHeaderName identifies the replica issuing a request.
const DeviceIDHeaderName = "device_id"
