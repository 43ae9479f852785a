// Package services defines the error taxonomy shared by the pipeline
// components.
//
// Every failure a component reports is tagged with one of the sentinel errors
// so callers can classify it without string matching: transient I/O, missing
// configuration, identity lookup misses, timeouts, and external tool
// failures. Wrap builds the tagged error with component and operation
// context.
//
// The taxonomy mirrors the fault-isolation policy of the agent: nothing in
// this package is fatal. Components retry, log, and skip; only the process
// entrypoints decide to exit.
package services
