package planner

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

// fakeBackend replays a canned response in fragments.
type fakeBackend struct {
	response  string
	chunkSize int
	err       error
	prompts   []string
}

func (f *fakeBackend) Stream(ctx context.Context, prompt string, emit func(string) error) error {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return f.err
	}
	size := f.chunkSize
	if size <= 0 {
		size = 7
	}
	for i := 0; i < len(f.response); i += size {
		end := i + size
		if end > len(f.response) {
			end = len(f.response)
		}
		if err := emit(f.response[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func TestParsePlan_PlainJSON(t *testing.T) {
	plan, err := ParsePlan(`{"assistant_text":"checking disk","commands":[{"cmd":"df -h","why":"show disk usage"}]}`)
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if plan.AssistantText != "checking disk" {
		t.Errorf("assistant_text = %q", plan.AssistantText)
	}
	if len(plan.Commands) != 1 || plan.Commands[0].Cmd != "df -h" {
		t.Errorf("commands = %+v", plan.Commands)
	}
}

func TestParsePlan_CodeFences(t *testing.T) {
	raw := "```json\n{\"assistant_text\":\"ok\",\"commands\":[{\"cmd\":\"uptime\",\"why\":\"w\"}]}\n```"
	plan, err := ParsePlan(raw)
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if len(plan.Commands) != 1 || plan.Commands[0].Cmd != "uptime" {
		t.Errorf("commands = %+v", plan.Commands)
	}
}

func TestParsePlan_LeadingChatterAndTrailingJunk(t *testing.T) {
	raw := "Sure! Here is the plan:\n{\"assistant_text\":\"ok\",\"commands\":[{\"cmd\":\"ls\",\"why\":\"list\"}]}\nLet me know if you need more."
	plan, err := ParsePlan(raw)
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if len(plan.Commands) != 1 || plan.Commands[0].Cmd != "ls" {
		t.Errorf("commands = %+v", plan.Commands)
	}
}

func TestParsePlan_NoObject(t *testing.T) {
	if _, err := ParsePlan("I cannot help with that."); err == nil {
		t.Error("expected error for response without JSON object")
	}
}

func TestParsePlan_TruncatesToTenAndDropsEmpty(t *testing.T) {
	var cmds []string
	cmds = append(cmds, `{"cmd":"","why":"empty"}`)
	for i := 0; i < 14; i++ {
		cmds = append(cmds, fmt.Sprintf(`{"cmd":"echo %d","why":"n"}`, i))
	}
	raw := `{"assistant_text":"x","commands":[` + strings.Join(cmds, ",") + `]}`

	plan, err := ParsePlan(raw)
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if len(plan.Commands) != 10 {
		t.Fatalf("len = %d, want 10", len(plan.Commands))
	}
	if plan.Commands[0].Cmd != "echo 0" {
		t.Errorf("first = %q, empty command not dropped", plan.Commands[0].Cmd)
	}
}

func TestPlanCommands_PromptContainsRulesAndTail(t *testing.T) {
	backend := &fakeBackend{response: `{"assistant_text":"ok","commands":[]}`}
	p := New(backend)

	tail := strings.Repeat("x", 3000) + "TAIL-END"
	_, err := p.PlanCommands(context.Background(), "check disk space", RulesContext{
		Global: "global rule",
		Server: "server rule",
	}, tail)
	if err != nil {
		t.Fatalf("PlanCommands: %v", err)
	}

	prompt := backend.prompts[0]
	if !strings.Contains(prompt, "global rule") || !strings.Contains(prompt, "server rule") {
		t.Error("prompt missing rules context")
	}
	if !strings.Contains(prompt, "TAIL-END") {
		t.Error("prompt missing terminal tail")
	}
	// Only the last 2000 chars of the tail are included.
	if strings.Contains(prompt, strings.Repeat("x", 2500)) {
		t.Error("prompt includes more tail than the 2000-char window")
	}
	if !strings.Contains(prompt, "check disk space") {
		t.Error("prompt missing user request")
	}
}

func TestPlanCommands_BackendError(t *testing.T) {
	backend := &fakeBackend{err: fmt.Errorf("connection refused")}
	p := New(backend)
	if _, err := p.PlanCommands(context.Background(), "hi", RulesContext{}, ""); err == nil {
		t.Error("expected error from failing backend")
	}
}

func TestPlanCommands_OutputCapEnforced(t *testing.T) {
	backend := &fakeBackend{response: strings.Repeat("a", maxResponseChars+5000), chunkSize: 4096}
	p := New(backend)
	if _, err := p.PlanCommands(context.Background(), "hi", RulesContext{}, ""); err == nil {
		t.Error("expected error once output cap is exceeded")
	}
}
