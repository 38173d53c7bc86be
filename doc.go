// Package callbridge adapts callback-driven RPC transports into blocking
// results and pull-based response streams.
//
// A transport exposes each in-flight RPC as a CallHandle and reports inbound
// messages, headers, and the terminal status through a CallListener that it
// invokes asynchronously. The Bridge composes those callbacks into the four
// call shapes (unary or streaming on either side), taking care of outbound
// flow control, inbound capacity replenishment, and cancellation of the
// underlying call whenever the caller's computation stops before the call
// completes on its own.
//
// The package also includes a binding of that abstract boundary to real
// gRPC: GRPCChannel turns any grpc.ClientConnInterface into a Channel, so
// the bridge can issue calls over a normal client connection or an
// in-process channel.
package callbridge
