// Package steploop implements an agent orchestration loop with interceptable
// steps.
//
// A Runner drives an Agent through a step state machine: prepare the prompt,
// call the model, execute any requested tools, and vet the output, repeating
// until the model finishes without tool calls or the step budget runs out.
// Processors hook into five points of that machine (input, input-step,
// output-result, output-stream, output-step) and may transform content or
// raise a Tripwire verdict that retries the step or terminates the run.
//
// # Core concepts
//
//   - Agent: name, instructions, model, and tools.
//   - Runner: executes runs against a thread; Generate returns a Result,
//     Stream emits typed Chunks over a channel.
//   - Processor: identity plus whichever hook interfaces it implements.
//     LoopGuard and ContentFilter are ready-made processors.
//   - Tripwire: a processor verdict. Retry asks for a regeneration with the
//     rejection reason fed back as transient guidance; otherwise the run
//     terminates with the tripwire on the Result.
//   - Tool: an executable capability; calls within a step run concurrently
//     and oversized output is truncated before it reaches the prompt.
//
// Conversation state persists through a store.Store; thread titles are
// generated in the background after the first exchange.
//
// # Quick Start
//
//	runner, _ := steploop.NewRunner(&steploop.Agent{
//	    Name:         "helper",
//	    Instructions: "You are a helpful assistant.",
//	    Model:        "claude-opus-4-6",
//	}, steploop.RunConfig{Client: client, Store: st})
//
//	result, err := runner.Generate(ctx, steploop.Request{
//	    ThreadID: threadID,
//	    Text:     "What is the capital of France?",
//	})
package steploop
