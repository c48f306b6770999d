// Package claim implements advisory, non-blocking ownership records on top
// of the record store. It is the shared engine behind named locks and task
// claims.
//
// Each owned name is one record holding the owner's session id. Acquire
// grants the record if it is free, already held by the caller, or held by a
// session that is no longer alive; otherwise it reports the live holder.
// Every transition is a compare-and-swap against the version just read, so
// two acquirers racing for an abandoned record cannot both win: the loser's
// write conflicts, it re-reads, and it is denied naming the winner.
//
// Releasing writes an empty holder instead of deleting the record. The
// version keeps growing, which rules out a stale writer succeeding against
// a deleted-and-recreated record.
package claim
