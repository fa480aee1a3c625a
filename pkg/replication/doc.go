// Package replication keeps slave stores in sync with a master.
//
// The master side answers heartbeats, tracks how far every participant got
// and serves log ranges and checkpoint files (Operations, ParticipantsStates).
// The slave side runs a single Stage that alternates between three logics:
// BASIC waits until the master is ahead, REQUEST fetches and applies the
// missing log range, LOAD replaces the local state with the master's newest
// checkpoint when the log cannot bridge the gap. A Pacemaker reports the
// slave's position to the master.
package replication
