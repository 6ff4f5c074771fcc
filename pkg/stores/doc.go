// Package stores provides persistence layer implementations for StackMedic.
// It includes SQLite-based storage with WAL mode, connection pooling, and
// CRUD operations for runs, step traces, probe history, remediation
// outcomes, rendered reports, and schedule bookkeeping.
package stores
