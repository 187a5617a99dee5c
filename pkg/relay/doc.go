// Package relay publishes context events to subscribers.
//
// A Relay is fire-and-forget: callers never wait for acknowledgement and never
// handle a delivery error. A transport failure is reported to the failure
// handler, which by default logs it and terminates the process.
package relay
