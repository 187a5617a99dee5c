/*
Package observability provides metrics and lifecycle hooks for kernelctx.

Metrics are Prometheus collectors registered on a caller-supplied registry, so that
tests and embedding hosts can keep them isolated. Hooks turns executor and handler
lifecycle events into structured log lines and metric samples.
*/
package observability
