// Package transport carries prioritized property writes between devices.
//
// The engine only depends on the object.Network interface: resolve a peer by
// instance number, then send an asynchronous write whose completion arrives
// as exactly one of acknowledged / negatively acknowledged / failed.
//
// Inproc is the in-process implementation joining local devices: good enough
// for single-process deployments and for exercising every completion path in
// tests. Outbound requests share an optional token-bucket rate limit.
package transport
