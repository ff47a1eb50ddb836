// Package storage persists announced-event identifiers so a monitor
// restarted mid-session does not re-post events it already announced.
//
// Persistence is optional (storage.driver in config). When disabled the
// monitor keeps its announced set in memory only, at the accepted cost
// of possible duplicates after a mid-session restart.
package storage
