// Package journal persists pipeline outcomes in SQLite for the CLI.
//
// The journal records what happened to files (classified, correlated,
// dispatched, merged, dropped) so an operator can ask the agent what it did
// without scraping logs. It is strictly an outcome record: pending work
// items never touch it and nothing is replayed from it after a restart.
//
// Writes are best-effort by design; a journal failure is logged by the
// caller and never blocks the pipeline. Schema changes bump schemaVersion in
// schema.go; operators delete the database to adopt a new schema.
package journal
