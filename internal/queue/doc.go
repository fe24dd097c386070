// Package queue provides a single-consumer, priority-ordered job dispatcher
// with in-band cancellation.
//
// # Overview
//
// Callers push a stream of heterogeneous messages through one ingress
// function. Each message is either a work item or a cancellation directive:
//   - Work items wait in a priority heap until the drain loop pops them
//   - Directives record a per-context watermark and are then discarded
//   - A popped item whose context watermark is newer than its own timestamp
//     goes to the cancel sink instead of the dispatch sink
//
// # Architecture
//
// The package consists of composable parts:
//
//   - Heap: array-backed binary heap with lazy compaction of popped slots
//   - Registry: context id to cancellation watermark
//   - Scheduler: owns one Heap and one Registry, classifies ingress and runs
//     the cooperative drain loop
//   - Yield: the host primitive that runs the next drain tick later
//
// # Drain loop
//
// A scheduler is either idle or draining. The first message that arrives while
// idle runs one tick synchronously; every tick pops at most one item and hands
// the next tick to the Yield primitive. The episode ends when a tick starts and
// finds the heap empty, so one settle tick always follows the last pop.
//
// # Example
//
//	s := queue.New(queue.Immediate, queue.Config[Job, string]{
//	    IsCancel:  func(j Job) bool { return j.Kind == "cancel" },
//	    ContextID: func(j Job) (string, bool) { return j.Context, j.Context != "" },
//	}, runJob, dropJob)
//
//	s.Submit(Job{Context: "build-42", TS: 1})
//	s.Submit(Job{Context: "build-42", TS: 2, Kind: "cancel"})
package queue
