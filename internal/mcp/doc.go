// Package mcp serves agentflow over the Model Context Protocol.
//
// Tools cover the task lifecycle (task_create, task_execute, task_cancel,
// task_get, task_running), shared memory (memory_index, memory_search,
// memory_get, memory_delete, memory_stats) and tool discovery (tool_search).
// Agent output returned by task tools is scrubbed for secrets.
package mcp
