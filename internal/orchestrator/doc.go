// Package orchestrator runs agent tasks as supervised child processes.
//
// A task is a persisted unit of work with a title, optional description,
// priority and workspace. Executing a task spawns the configured agent
// command in the task's workspace with the task prompt, waits for it under a
// timeout and records the outcome.
//
// # Lifecycle
//
// Tasks move through a small state machine:
//
//	pending → running → completed | failed | blocked
//
// Only pending tasks may start. Completed, failed and blocked are terminal.
// Blocked is reached only through Cancel, which persists the state before the
// process group is killed.
//
// # Admission
//
// The orchestrator holds a running set bounded by Config.MaxConcurrent.
// Admission checks the ceiling and inserts the task id under one lock, so
// concurrent Execute calls can never exceed it. There is no queue: a call at
// the ceiling fails immediately with a KindCapacity error.
//
// # Memory
//
// When a memory store is attached, related entries are appended to the prompt
// as a context block, and each outcome is scrubbed for secrets and indexed
// back under the task id.
//
// # Storage and events
//
// Repository has an in-process implementation and one backed by a NATS
// JetStream key-value bucket. Lifecycle events go to a Publisher; the NATS
// publisher emits JSON on {prefix}.{task uuid}.{event}.
package orchestrator
