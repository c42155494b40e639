// Package assembler connects the conversation log to the memory store and
// builds the bounded context payload for the narrative generator.
//
// ProcessConversation runs a batch of turns through the external
// extraction provider and persists each candidate fact as a memory entry.
// The batch never aborts on a partial failure; the result reports how many
// candidates were created and how many failed.
//
// MemoryContext composes the payload for a generation request: the
// top-ranked memories (similarity-ranked when a query is given, ordered by
// importance otherwise) plus a fixed-size excerpt of the latest
// conversation turns, rendered into prompt-ready text.
package assembler
