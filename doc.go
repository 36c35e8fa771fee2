// Package peermesh is a peer coordination layer for cooperating execution
// agents ("workers") that share mutually-exclusive access to named resources,
// exchange short-lived control messages, and get work assigned to the
// least-loaded eligible peer, all without a central server.
//
// Each participating process constructs one coordinator.Coordinator against
// a shared durable store and a shared broadcast channel. Coordination is
// advisory: locks are time-bounded leases that expire on their own, liveness
// is inferred from heartbeat recency, and messages carry a TTL after which
// they are silently dropped (at-most-once delivery).
//
// # Subsystems
//
//   - lock: lease-based exclusive access to named resources
//   - worker: peer registry, capability sets, and liveness monitoring
//   - bus: bounded, typed publish/subscribe with per-message expiry
//   - dispatcher: capability-aware, least-loaded task assignment
//   - coordinator: the public façade, persistence glue, and statistics
//   - store: durable snapshot persistence (memory, redis, postgres)
//   - transport: the cross-peer broadcast channel (memory hub, redis pub/sub)
//
// # What peermesh is not
//
// It does not implement Byzantine fault tolerance, does not provide
// linearizable consensus across peers, and does not persist a message log.
// Only the current worker and lock snapshot survives a restart. Two peers
// racing to acquire the same resource are serialized only within each
// process; cross-process exclusion is advisory and depends on cooperating,
// mostly-trusted peers.
package peermesh
