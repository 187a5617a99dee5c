/*
Package ports defines the driven ports (interfaces) of kernelctx.

These interfaces decouple the contexts from the concrete transports and backends,
so the same handlers run against a Jupyter kernel or a recording fake, against
Redis or memory, against a storage service or an httptest server.

# Key Interfaces

  - TemplateSource: loads code templates by name (embedded, memory, Loam directory).
  - Interpreter: submits code to a remote interpreter (execute and evaluate).
  - Publisher: delivers events to subscribers.
  - DocumentStore: fetches and saves documents in a remote storage service.
  - SnapshotStore: persists per-context SessionState snapshots.
  - DistributedLocker: distributed locking for concurrent access to one context.
*/
package ports
