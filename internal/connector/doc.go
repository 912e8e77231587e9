// Package connector is the adapter boundary between the runtime and
// external systems.
//
// Every target system implements Connector (Health, ReadStatus, Execute)
// and normalises its native device shape to Device. Connectors never talk
// to the network directly; they consume a Transport so the device
// protocol stays outside this package.
//
// Failures are mapped to a fixed taxonomy (Error) with a retryable flag
// fixed per kind. Each registered connector owns a CircuitBreaker that the
// Registry consults before every call.
package connector
