/*
Package session serializes access to context instances and persists their state.

Every state-mutating operation on one context instance runs inside Manager.WithLock,
so a setup that is still waiting on a remote fetch cannot interleave with a mutation
on the same instance. An optional DistributedLocker extends the exclusion across
replicas sharing a snapshot store.
*/
package session
