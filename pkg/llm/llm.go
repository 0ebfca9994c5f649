package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrInvalidOutput is returned when a schema-bound generation is not valid JSON
var ErrInvalidOutput = errors.New("model output is not valid JSON")

// Instruction selects one of a fixed set of system prompts
type Instruction string

const (
	InstructionChatReply         Instruction = "chatReply"
	InstructionReminderMessage   Instruction = "reminderMessage"
	InstructionProfileExtraction Instruction = "profileExtraction"
	InstructionCalendarSummary   Instruction = "calendarSummary"
	InstructionDailyBriefing     Instruction = "dailyBriefing"
)

var prompts = map[Instruction]string{
	InstructionChatReply: "You are a helpful personal assistant. Reply to the user's latest message " +
		"concisely, using the supplied context when it is relevant.",
	InstructionReminderMessage: "Write a short, friendly push notification reminding the user about the " +
		"task described below. Keep it under 120 characters.",
	InstructionProfileExtraction: "Extract durable facts about the user from the text below. " +
		"Return a flat JSON object of string keys to string values.",
	InstructionCalendarSummary: "Summarize the user's calendar events below in two or three sentences, " +
		"highlighting conflicts and the first commitment of the day.",
	InstructionDailyBriefing: "Write a brief morning briefing for the user from the context below: " +
		"their schedule, open reminders and anything notable in their profile.",
}

// Valid reports whether i is a known instruction
func (i Instruction) Valid() bool {
	_, ok := prompts[i]
	return ok
}

// Prompt returns the system prompt for i
func (i Instruction) Prompt() string {
	return prompts[i]
}

// Instructions returns every known instruction
func Instructions() []Instruction {
	return []Instruction{
		InstructionChatReply,
		InstructionReminderMessage,
		InstructionProfileExtraction,
		InstructionCalendarSummary,
		InstructionDailyBriefing,
	}
}

// Generator produces text for a prompt under a system instruction.
// A non-empty schema asks for JSON output shaped by that schema.
type Generator interface {
	Generate(ctx context.Context, prompt string, instruction Instruction, schema json.RawMessage) (string, error)
}

// Func adapts a plain function to Generator
type Func func(ctx context.Context, prompt string, instruction Instruction, schema json.RawMessage) (string, error)

// Generate implements Generator
func (f Func) Generate(ctx context.Context, prompt string, instruction Instruction, schema json.RawMessage) (string, error) {
	return f(ctx, prompt, instruction, schema)
}

// systemPrompt builds the system message, appending the schema when present
func systemPrompt(instruction Instruction, schema json.RawMessage) (string, error) {
	if !instruction.Valid() {
		return "", fmt.Errorf("unknown instruction: %s", instruction)
	}
	prompt := instruction.Prompt()
	if len(schema) > 0 {
		prompt += "\n\nRespond only with JSON matching this schema:\n" + string(schema)
	}
	return prompt, nil
}

// ExtractJSON strips Markdown code fences around a JSON answer and validates it
func ExtractJSON(output string) (string, error) {
	s := strings.TrimSpace(output)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if !gjson.Valid(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidOutput, truncate(output, 80))
	}
	return s, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
