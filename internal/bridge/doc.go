// Package bridge connects a real-time audio capture engine to a downstream
// sink. The engine's process callback writes one period of planar float
// samples per invocation into a fixed-capacity ring buffer; a transfer
// worker polls the buffer and forwards complete slots to the sink.
//
// The process callback path is lock-free: slot publication happens through
// an atomic write cursor increment, and the session lock only serializes the
// transfer worker against ring buffer reallocation when the engine
// renegotiates its period size.
package bridge
