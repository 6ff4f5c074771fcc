// Package orchestrator wires the profiler, probes, sequencer, remediation
// engine, reporter, and scheduler into the three operator entry points:
// Setup provisions the deployment, Diagnose takes a health snapshot, and
// Maintain runs the recurring remediation cycles.
package orchestrator
