// Package conductor provides a durable, crash-safe job and pipeline engine
// for long-running external computations. It offers a single-worker job
// queue with a well-defined status taxonomy, sequential pipeline
// orchestration, and automatic retry of transient failures with
// exponential backoff — all backed by schema-versioned, atomically
// written state documents that survive process restarts.
//
// Conductor is designed as a library, not a service. Import it, open a
// store, plug in a task runner, and drive jobs or pipelines through the
// engine.
//
// # Quick Start
//
//	st, err := file.Open(dataDir)
//	eng, err := engine.New(conductor.DefaultConfig(), st, runner,
//	    engine.WithLogger(logger),
//	)
//	eng.Start(ctx)
//
// # Architecture
//
// Conductor follows a composable store pattern where each subsystem (job,
// pipeline, settings, audit) defines its own store interface and a single
// backend implements all of them. Execution is deliberately
// single-in-flight: one background worker drains the queue FIFO, so at
// most one external task runs at any time.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package conductor
