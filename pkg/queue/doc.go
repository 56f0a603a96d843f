// Package queue implements the per-key request scheduler.
//
// A Queuer owns one API key's FIFO of pending requests, its usage store,
// and a single cooperative dispatch loop. The loop scans the queue in
// arrival order and dispatches the first item whose model is admissible
// right now, so a request for a throttled model never holds up a later
// request for a model with slack. Ordering within one model is preserved;
// ordering across models is deliberately not.
//
// The Queuer also answers EstimateWaitMS, the routing signal: it deep
// copies every usage bucket into a sandbox, replays the live queue plus a
// hypothetical new item using the smoothed execution-time estimate, and
// reports when the hypothetical item would start. The simulation never
// touches live counters.
package queue
