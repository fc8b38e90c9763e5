// Package storage is the durable key-by-path store behind the job status store.
//
// Records are opaque byte blobs addressed by hierarchical keys (job id
// segments). A Layout turns a key into a location string; the file driver
// maps locations to directories, the sqlite driver stores them as row keys.
// Layouts are versioned so a repair pass can relocate records written by an
// older layout.
package storage
