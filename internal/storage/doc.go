package storage

// Package storage keeps the execution journal: one append-only record per
// check-in attempt, scheduled or manual. The journal is an audit trail and
// never read back at runtime; the schedule snapshot the bot recovers from
// lives elsewhere.
