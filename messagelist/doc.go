// Package messagelist maintains the canonical conversation history of a
// thread and reconciles it into model-ready and storage-ready views.
//
// Messages enter the list tagged with an Origin (memory, user input, or model
// response). Add merges by id with last-write-wins fields and deep-merged
// metadata, so re-saving an updated message never duplicates it. Core()
// produces the model view: unresolved tool calls dropped, orphaned tool
// results kept, adjacent same-role messages collapsed, and an optional
// step-scoped system override applied. DB() produces the storage view without
// any of the model-only shaping.
package messagelist
