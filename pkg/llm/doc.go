// Package llm is the boundary to the text-generation model. Callers pick a
// system prompt from a fixed Instruction set and may request JSON output by
// passing a schema. OpenAI talks to any OpenAI-compatible endpoint; Func
// adapts a plain function for tests and offline runs.
package llm
