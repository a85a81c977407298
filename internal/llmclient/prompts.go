// File: internal/llmclient/prompts.go
package llmclient

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/rover/internal/agent"
)

const planSystemPrompt = `You prepare step by step plans for completing tasks in a web browser.
The task may be an instruction or a question. For a question, plan how to find the answer.

You also receive a screenshot of the current page.
- If the page is a search engine, start the plan with a search for the right keywords.
- Otherwise plan to scroll through the page and collect the relevant information.

For example, for "What is the latest news on Apple's stock price?" a plan could be:
1. Type "Apple stock price news today" into the search box and press enter
2. Open a reliable financial news source (Reuters, Bloomberg, CNBC)
3. Read the article for the current price and recent developments
4. If there is enough information, summarize it
5. Otherwise go back and try another source until there is enough information

Keep the plan clear, sequential and focused on the goal.
Reply with JSON of the form {"plan": ["step 1", "step 2", ...]}.`

const decideSystemPrompt = `You are a robot browsing the web like a human to complete a task.
Each iteration you receive an observation: a screenshot of the page where interactive
elements are outlined and numbered in their top-left corner, plus a list of those elements.
Choose exactly one action:

1. Click a web element.
2. Clear a textbox and type content (Enter is pressed afterwards).
3. Scroll an element or the whole window up or down.
4. Wait.
5. Go back to the previous page.
6. Return to the search engine to start over.
7. Respond with the final answer.

The action MUST follow one of these formats exactly:
- Click [Numerical_Label]
- Type [Numerical_Label]; [Content]
- Scroll [Numerical_Label or WINDOW]; [up or down]
- Wait
- GoBack
- Google
- Respond

Guidelines:
1) One action per iteration.
2) Close popups when they appear.
3) Pick the bounding box carefully; labels share the colour of their box.
4) Scroll through PDFs and long documents to read them fully; if the information is
   missing, go back and try another source.
5) Ignore login, sign-in and donation elements.
6) Choose actions that waste as little time as possible.

Reply strictly in this format:
Thought: {brief thoughts summarizing what helps answer the task}
Action: {one action in the format above, with the label in brackets, e.g. Click [1] or Scroll [WINDOW]; down}`

const answerSystemPrompt = `You answer the user's input based on notes collected while browsing the web.

Notes:
%s

Structure the reply as markdown with two sections:
## Steps
The steps taken while browsing to find the answer.
## Final Answer
Only the answer that directly addresses the user's input.`

func planUserPrompt(task string) string {
	return "This is the task to perform or the question to answer: " + task
}

func decideUserPrompt(in agent.DecideInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Input: %s\n\n", in.Task)
	b.WriteString("Master Plan:\n")
	writeList(&b, in.Plan)
	b.WriteString("\nActions Taken So far:\n")
	writeList(&b, in.History)
	b.WriteString("\nObservation: Bounding Boxes:\n")
	b.WriteString(FormatBoxes(in.Observation.Boxes))
	if len(in.Observation.Image) == 0 {
		b.WriteString("\nNo screenshot is available for this observation.\n")
	}
	return b.String()
}

func answerSystem(notes []string) string {
	var b strings.Builder
	writeList(&b, notes)
	return fmt.Sprintf(answerSystemPrompt, strings.TrimRight(b.String(), "\n"))
}

func answerUserPrompt(task string) string {
	return "User Input: " + task
}

// FormatBoxes renders marked elements one per line as
// `ID (type): "text" [aria-label]`.
func FormatBoxes(boxes []agent.Bbox) string {
	if len(boxes) == 0 {
		return "(no interactive elements were marked)\n"
	}
	var b strings.Builder
	for _, box := range boxes {
		fmt.Fprintf(&b, "%d (%s): %q", box.ID, box.Type, box.Text)
		if box.AriaLabel != "" {
			fmt.Fprintf(&b, " [%s]", box.AriaLabel)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func writeList(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString("(none)\n")
		return
	}
	for i, item := range items {
		fmt.Fprintf(b, "%d. %s\n", i+1, item)
	}
}
