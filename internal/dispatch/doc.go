// Package dispatch is the controller of a jobflow run.
//
// A Dispatcher pulls records from the input chunker, applies skip and count,
// and hands each record to its mode:
//
//   - cat: the record is written to stdout unchanged
//   - substitute: {} / {.} / {#} are substituted into the command template and
//     one worker is launched per record; with no idle slot the dispatcher
//     blocks until a worker exits and reuses its slot
//   - forward: up to N long-lived workers are started and records are written
//     round-robin to their stdin
//
// After each dispatch the ledger is written, immediately or (with delayed
// flush) only when every slot is busy. At end of input worker pipes are closed,
// every worker is reaped and a delayed ledger gets its final value.
//
// The Dispatcher is single-threaded. Status may be read concurrently; it only
// touches atomic counters.
package dispatch
