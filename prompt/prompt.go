// Package prompt assembles the final prompt string handed to a worker.
// Assembly is a pure function of its inputs: equal inputs yield byte-equal
// prompts, because workers parse protocol paragraphs out of the text and
// regression tests pin sections verbatim.
package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/troupelabs/troupe/store"
)

// Reserved inputData keys lifted out of the Input Data section.
const (
	UseCaseKey    = "_use_case"
	TimeFilterKey = "_time_filter"
)

// executionEnvironment is the canonical non-interactive CLI contract.
const executionEnvironment = `You run as a non-interactive command-line process. Standard shell tools
(bash, curl, jq, git) are available. There is no human at the terminal:
never prompt for input and never wait for confirmation. Everything you
print to stdout is captured as the execution output.`

// webSearchGuidance is emitted when the structured prompt enables web search.
const webSearchGuidance = `You may use web search to ground your answers. Prefer primary sources,
cite the URL of anything you rely on, and note when results may be stale.`

// communicationProtocols is parsed by workers; its text is pinned.
const communicationProtocols = `To send a message to the user, print a single line:
PROTOCOL user_message {"message": "<text>"}

To report an action you have taken, print a single line:
PROTOCOL persona_action {"action": "<name>", "detail": "<text>"}

To emit an event for other personas, print a single line:
PROTOCOL emit_event {"event_type": "<type>", "payload": {}}

To store a durable memory, print a single line:
PROTOCOL agent_memory {"key": "<key>", "value": "<text>"}

To request human review before continuing, print a single line:
PROTOCOL manual_review {"reason": "<text>"}

Execution flow: work through the task start to finish in one pass. Do not
background work or schedule follow-ups; everything must finish before you
exit.

Outcome assessment: end your output with a single line starting with
OUTCOME: followed by succeeded, partial, or failed, and a one-sentence
summary.`

// executeNow closes every prompt.
const executeNow = `EXECUTE NOW: Begin the task immediately. Do not ask questions or wait for
input; produce your complete output and exit.`

type structuredPrompt struct {
	Identity       string          `json:"identity"`
	Instructions   string          `json:"instructions"`
	ToolGuidance   string          `json:"toolGuidance"`
	Examples       string          `json:"examples"`
	ErrorHandling  string          `json:"errorHandling"`
	CustomSections []customSection `json:"customSections"`
	WebSearch      bool            `json:"webSearch"`
}

type customSection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Assemble composes the worker prompt for a persona. Tools are emitted in
// the order given; credential hints are sorted; inputData keys follow JSON
// marshalling order (sorted).
func Assemble(persona *store.Persona, tools []*store.ToolDefinition, inputData map[string]any, credentialHints []string) string {
	var sections []string
	add := func(s string) {
		if s != "" {
			sections = append(sections, s)
		}
	}

	add("# Persona: " + persona.Name)
	add(strings.TrimSpace(persona.Description))

	for _, s := range identitySections(persona) {
		add(s)
	}

	add(toolSection(tools))
	add("## Execution Environment\n\n" + executionEnvironment)
	add(credentialSection(credentialHints))
	add("## Communication Protocols\n\n" + communicationProtocols)

	useCase, timeFilter, rest := splitReserved(inputData)
	add(useCase)
	add(timeFilter)
	add(inputSection(rest))

	add(executeNow)

	return strings.Join(sections, "\n\n") + "\n"
}

func identitySections(persona *store.Persona) []string {
	raw := strings.TrimSpace(persona.SystemPrompt)

	if persona.StructuredPrompt != "" {
		var sp structuredPrompt
		if err := json.Unmarshal([]byte(persona.StructuredPrompt), &sp); err == nil {
			return structuredSections(&sp)
		}
	}
	if raw == "" {
		return nil
	}
	return []string{"## Identity\n\n" + raw}
}

func structuredSections(sp *structuredPrompt) []string {
	var out []string
	emit := func(title, body string) {
		body = strings.TrimSpace(body)
		if body != "" {
			out = append(out, "## "+title+"\n\n"+body)
		}
	}
	emit("Identity", sp.Identity)
	emit("Instructions", sp.Instructions)
	emit("Tool Guidance", sp.ToolGuidance)
	emit("Examples", sp.Examples)
	emit("Error Handling", sp.ErrorHandling)
	for _, cs := range sp.CustomSections {
		if cs.Title != "" {
			emit(cs.Title, cs.Content)
		}
	}
	if sp.WebSearch {
		out = append(out, "## Web Search\n\n"+webSearchGuidance)
	}
	return out
}

func toolSection(tools []*store.ToolDefinition) string {
	if len(tools) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Available Tools")
	for _, t := range tools {
		b.WriteString("\n\n### " + t.Name)
		if d := strings.TrimSpace(t.Description); d != "" {
			b.WriteString("\n\n" + d)
		}
		if u := strings.TrimSpace(t.Usage); u != "" {
			b.WriteString("\n\nUsage: " + u)
		}
		if t.Schema != "" {
			b.WriteString("\n\nInput schema:\n" + strings.TrimSpace(t.Schema))
		}
	}
	return b.String()
}

func credentialSection(hints []string) string {
	if len(hints) == 0 {
		return ""
	}
	sorted := make([]string, len(hints))
	copy(sorted, hints)
	sort.Strings(sorted)

	var b strings.Builder
	b.WriteString("## Available Credentials\n\nThese environment variables hold connector credentials:")
	for _, h := range sorted {
		b.WriteString("\n- " + h)
	}
	return b.String()
}

func splitReserved(inputData map[string]any) (useCase, timeFilter string, rest map[string]any) {
	if len(inputData) == 0 {
		return "", "", nil
	}
	rest = make(map[string]any, len(inputData))
	for k, v := range inputData {
		switch k {
		case UseCaseKey:
			useCase = "Use case: " + fmt.Sprintf("%v", v)
		case TimeFilterKey:
			timeFilter = "Time filter: " + fmt.Sprintf("%v", v)
		default:
			rest[k] = v
		}
	}
	return useCase, timeFilter, rest
}

func inputSection(inputData map[string]any) string {
	if len(inputData) == 0 {
		return ""
	}
	// MarshalIndent sorts map keys, keeping the section deterministic.
	pretty, err := json.MarshalIndent(inputData, "", "  ")
	if err != nil {
		return ""
	}
	return "## Input Data\n\n```json\n" + string(pretty) + "\n```"
}
