// Package watch reports mutations to the record store as a stream of
// [MutationEvent] values.
//
// A [Notifier] keeps a snapshot of key versions under a prefix and rescans
// the store whenever something may have changed: on an fsnotify event for
// file-backed stores and on a fixed poll interval for every backend. Diffing
// successive snapshots means a dropped or coalesced OS notification is
// recovered on the next poll, so every mutation is eventually reported.
// Several writes to one key between scans collapse into a single event.
//
// A consumer that reconnects can pass the last [Snapshot] it saw through
// [WithBaseline] and receive only what changed since then.
package watch
