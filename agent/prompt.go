package agent

import (
	"fmt"
	"strings"

	"github.com/gaialab/gaia/parser"
)

const decisionFormat = `Respond with exactly one JSON object and nothing else. Fields:
  "thought": your reasoning (string, optional)
  "goal":    what you are working towards (string, optional)
and exactly one of:
  "answer":  the final answer for the user (string)
  "tool" + "tool_args": one tool to call now, optionally with a "plan"
  "plan":    an array of steps [{"tool": "...", "tool_args": {...}}, ...]

Tool calls should normally be part of a plan. Use "answer" only when the
task is done.`

// systemPrompt assembles the standing instructions: role, decision format,
// tool catalog.
func systemPrompt(base, toolCatalog string) string {
	var b strings.Builder
	if base != "" {
		b.WriteString(base)
	} else {
		b.WriteString("You are GAIA, an agent that solves tasks by calling tools.")
	}
	b.WriteString("\n\n")
	b.WriteString(decisionFormat)
	b.WriteString("\n\nAvailable tools:\n")
	b.WriteString(toolCatalog)
	return b.String()
}

// needsPlanPrompt asks the model to resubmit a bare tool call with a plan.
func needsPlanPrompt(tool string) string {
	return fmt.Sprintf("You requested tool %q without a plan. Respond again with a \"plan\" array covering the remaining steps (the tool call may be its first step).", tool)
}

// recoveryPrompt summarizes a failed step so the model can re-plan. Prior
// outputs arrive pre-truncated by the dispatch layer.
func recoveryPrompt(failed parser.PlanStep, errText string, plan []parser.PlanStep, priorOutputs []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tool %q failed: %s\n", failed.Tool, errText)

	if len(plan) > 0 {
		b.WriteString("The plan being executed was:\n")
		for i, step := range plan {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, step.Tool)
		}
	}

	if len(priorOutputs) > 0 {
		b.WriteString("Results so far:\n")
		for _, out := range priorOutputs {
			const maxRecap = 400
			if len(out) > maxRecap {
				out = out[:maxRecap] + "..."
			}
			fmt.Fprintf(&b, "  - %s\n", out)
		}
	}

	b.WriteString("The plan has been discarded. Decide how to proceed: a new plan, a different tool, or an answer.")
	return b.String()
}

// synthesisPrompt asks for the final answer once a plan ran to completion.
const synthesisPrompt = `All plan steps have been executed; their results are above. Respond with a JSON object containing the final "answer" for the user.`

// loopStopAnswer is the synthesized answer when the repeated-call guard
// fires.
func loopStopAnswer(tool, lastResult string) string {
	if lastResult == "" {
		return fmt.Sprintf("Stopped: tool %q was called repeatedly with identical arguments and made no progress.", tool)
	}
	return fmt.Sprintf("Stopped after repeated identical calls to %q. Last result:\n%s", tool, lastResult)
}
