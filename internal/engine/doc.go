// Package engine runs the external image-processing engine as a child process.
//
// The engine is invoked as `<command> [args...] <inputPath> <outputPath>` and
// reports success by exiting 0 with the literal token SUCCESS somewhere in its
// standard output. Every call spawns exactly one process, waits for it and
// classifies the result as Success, Failure or SpawnFailure. Nothing is retried.
package engine
