// Package planner turns a natural-language request into a structured
// shell command plan using a streaming text-generation backend.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// maxCommands is the hard cap on commands in one plan.
	maxCommands = 10
	// maxResponseChars is a soft cap on accumulated model output; the
	// stream is cut off once it is exceeded.
	maxResponseChars = 20000
	// tailContextChars is how much recent terminal output accompanies
	// the request.
	tailContextChars = 2000
)

const systemInstructions = `You are an assistant that plans shell commands for a remote Linux server.
Reply with ONLY a JSON object of the form:
{"assistant_text": "<short explanation for the user>", "commands": [{"cmd": "<single-line shell command>", "why": "<one sentence>"}]}
Rules: at most 10 commands, each a single line, no interactive programs, no markdown outside the JSON object.`

// PlannedCommand is one proposed command with its rationale.
type PlannedCommand struct {
	Cmd string `json:"cmd"`
	Why string `json:"why"`
}

// Plan is the parsed model response.
type Plan struct {
	AssistantText string           `json:"assistant_text"`
	Commands      []PlannedCommand `json:"commands"`
}

// RulesContext carries the hierarchical rule text layered into the
// prompt. Each level is optional.
type RulesContext struct {
	Global string
	Group  string
	Server string
}

// Planner produces command plans from user requests.
type Planner struct {
	backend TextStreamer
}

// New returns a Planner using the given backend.
func New(backend TextStreamer) *Planner {
	return &Planner{backend: backend}
}

// PlanCommands asks the backend for a plan. terminalTail is the recent
// visible terminal output; only its last portion is included.
func (p *Planner) PlanCommands(ctx context.Context, request string, rules RulesContext, terminalTail string) (*Plan, error) {
	prompt := buildPrompt(request, rules, terminalTail)

	var sb strings.Builder
	err := p.backend.Stream(ctx, prompt, func(fragment string) error {
		sb.WriteString(fragment)
		if sb.Len() > maxResponseChars {
			return fmt.Errorf("model output exceeded %d characters", maxResponseChars)
		}
		return nil
	})
	if err != nil && sb.Len() == 0 {
		return nil, fmt.Errorf("text generation: %w", err)
	}

	plan, perr := ParsePlan(sb.String())
	if perr != nil {
		return nil, perr
	}
	return plan, nil
}

func buildPrompt(request string, rules RulesContext, terminalTail string) string {
	var sb strings.Builder
	sb.WriteString(systemInstructions)
	sb.WriteString("\n\n")

	for _, section := range []struct{ label, text string }{
		{"Global rules", rules.Global},
		{"Group rules", rules.Group},
		{"Server rules", rules.Server},
	} {
		if strings.TrimSpace(section.text) == "" {
			continue
		}
		sb.WriteString(section.label)
		sb.WriteString(":\n")
		sb.WriteString(strings.TrimSpace(section.text))
		sb.WriteString("\n\n")
	}

	if tail := lastChars(terminalTail, tailContextChars); tail != "" {
		sb.WriteString("Recent terminal output:\n")
		sb.WriteString(tail)
		sb.WriteString("\n\n")
	}

	sb.WriteString("User request: ")
	sb.WriteString(request)
	return sb.String()
}

// ParsePlan defensively parses a model response into a Plan. Models wrap
// JSON in code fences, prepend chatter, and append trailing text; all of
// that is tolerated. An unparseable response is an error.
func ParsePlan(raw string) (*Plan, error) {
	s := strings.TrimSpace(raw)
	s = stripCodeFences(s)

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	var plan Plan
	dec := json.NewDecoder(strings.NewReader(s[start:]))
	if err := dec.Decode(&plan); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}

	// Drop empty commands and cap the plan length.
	cleaned := plan.Commands[:0]
	for _, c := range plan.Commands {
		c.Cmd = strings.TrimSpace(c.Cmd)
		if c.Cmd == "" {
			continue
		}
		cleaned = append(cleaned, c)
		if len(cleaned) == maxCommands {
			break
		}
	}
	plan.Commands = cleaned

	return &plan, nil
}

func stripCodeFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an optional language tag on the fence line.
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

func lastChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
