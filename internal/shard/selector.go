// Package shard implements Babble's stateless shard selector (§4.C): a
// pure function mapping a client key to one of N executor shards.
//
// The original C implementation (_examples/original_source/stage_3/
// babble_server.c, communication_thread_routine) hashes the raw received
// line to pick a shard, which means two commands from the same client can
// land on different shards whenever their payloads differ, breaking
// per-client ordering. Selecting on the client key instead guarantees
// every command from one client is routed to the same shard for the
// lifetime of its session, which is what spec.md's ordering property
// (§8, Testable Property 1/S1) requires.
package shard

// Select returns the shard index in [0, numShards) for key. numShards
// must be >= 1.
func Select(key uint64, numShards int) int {
	return int(key % uint64(numShards))
}
