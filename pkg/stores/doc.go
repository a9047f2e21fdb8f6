// Package stores keeps the history of start and stop runs in SQLite.
// Runs, per-resource results and the event timeline are written by the CLI
// after each run; the engine itself never reads them back.
package stores
