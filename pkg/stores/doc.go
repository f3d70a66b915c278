// Package stores persists the history of backup runs in SQLite.
// The schema is managed with embedded migrations; every run and the outcome
// of each of its plugins is recorded once the run has finished.
package stores
