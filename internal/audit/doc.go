// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

// Package audit records an audit trail of authentication events.
//
// # Overview
//
// Every registration, login, and logout handled by the API produces an
// Entry with the event, its outcome, the email involved, and the client
// address. The Logger decides which entries to keep based on its Mode and
// hands them to a Writer.
//
// # Audit Modes
//
//   - ModeOff: nothing is recorded
//   - ModeFailures: failed events are recorded synchronously
//   - ModeAll: failures are recorded synchronously, successes asynchronously
//
// # Writers
//
// PostgresWriter and SQLiteWriter store entries in the audit_log table of
// the matching storage backend. Both batch asynchronous entries and flush
// them periodically. LogWriter emits entries as structured log records and
// serves the in-memory backend.
//
// # Resilience
//
// When a synchronous write fails the entry is appended to a write-ahead log
// at $XDG_STATE_HOME/keysmith/audit-wal.jsonl. ReplayWAL moves those entries
// into the writer once it recovers; the server replays on startup.
//
// # Retention
//
// RetentionWorker periodically purges old rows. Failures are kept longer
// than successes; see DefaultRetentionConfig.
//
// # Metrics
//
//   - keysmith_audit_dropped_total: entries lost to a full async queue
//   - keysmith_audit_failures_total{reason}: failures by reason
//   - keysmith_audit_wal_entries: entries waiting in the WAL
package audit
