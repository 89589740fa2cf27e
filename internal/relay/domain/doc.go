// Package domain implements the relay's core behavior: the per-identity
// access state machine that gates first contact behind a timed verification
// challenge, the mapper that forwards admitted messages into the owner's
// thread and mirrors fresh edits, and the dispatcher that classifies
// inbound gateway events.
//
// State is derived, not stored: an identity is banned, pending, verified, or
// unknown according to which rows currently exist in the key-value store.
// Every transition is written to be safe to apply twice; the store offers no
// cross-key transactions and the relay takes no per-identity locks.
package domain
