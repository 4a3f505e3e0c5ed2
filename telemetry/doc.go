// Package telemetry holds the data plumbing shared by transports and coordinator:
// samples and their session clock, the transport event stream, ingestion queue,
// per channel sliding window buffer and pull health accounting.
//
// Ownership contract:
// - Queue is the only value crossing goroutines between a transport receive loop
// and the coordinator loop, single producer and single consumer.
// - ChannelBuffer is not thread-safe, only coordinator loop touches it.
// - HealthMonitor counters are atomic and safe to read from anywhere,
// Record*/Ready are called by coordinator loop only.
package telemetry
