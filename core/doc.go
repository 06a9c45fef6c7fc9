// Package core defines the domain model shared by the SecLog pipeline.
//
// # Types
//
// The core package provides:
//   - LogRecord, the canonical normalized log row, and its dedup key
//   - Logfile, EventType and Severity enums
//   - ThresholdRule and CorrelationRule, loaded read-only from configuration
//   - Alert, the transient output of the detection engines
//   - Incident and IncidentStatus with the Open -> Acknowledged -> Closed lifecycle
//   - QueryFilter and Summary, used by the query path
//
// # Design Principles
//
//  1. Interfaces are defined in the consumer package, not here
//  2. Values are plain structs; Alert is comparable so equality is structural
//  3. Timestamps are UTC with second precision everywhere
package core
