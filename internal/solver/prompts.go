package solver

import (
	"encoding/json"
	"fmt"
)

const systemPrompt = `You are an autonomous data-science quiz agent.

Rules:
- Each question is independent. Do NOT rely on previous questions.
- You have access only to the tools described to you. Do not fabricate external data.
- Per question, you have a hard time limit of just under 3 minutes.
- Always construct and maintain a submission JSON template:
    {
      "email": "...",
      "secret": "...",
      "url": "...",
      "answer": ...
    }
  Fill in as much as you can as you progress.
- If time is almost over, finalize the best possible answer from available information and submit it.
- Prefer simple, robust plans over complex ones.
- Use tools to:
    - Scrape web pages (including JS-generated content),
    - Download and parse data files,
    - Call APIs,
    - Run Python code for data transformation, ML, statistics, visualization.

Output:
- When asked for a plan, always respond in valid JSON.
- When asked to finalize an answer, respond with JSON containing at least the "answer" field.`

func planningPrompt(pageText, pageHTML, toolsDescription, currentURL string, timeRemaining float64) string {
	return fmt.Sprintf(`You are about to solve a single quiz question.

Current page URL:
%s

Time remaining (approximate):
%.1f seconds

Page TEXT (truncated if very long):
----
%s
----

Page HTML SNIPPET (may be truncated):
----
%s
----

Available tools:
%s

TASKS:

1. Understand what this question is asking.
2. Identify the submit URL (either a full URL or a path like /submit).
   - Look for phrases like "POST this JSON to /submit".
   - If you only see a path (e.g., /submit), assume it is relative to the current page's origin.
3. Infer the expected answer format (number, string, JSON structure, base64 image, etc).
4. Decide which tools you will need (web_scraper, download_file, run_code, send_request, etc).
5. Produce an initial submission template.

Respond in STRICT JSON with this structure:

{
  "understanding": "brief description of what the question asks",
  "submit_url": "path or full URL where the answer JSON should be POSTed",
  "answer_format": "description of expected answer format",
  "submission_template": {
    "email": "to be filled by system",
    "secret": "to be filled by you when known",
    "url": "to be filled by system with current question URL",
    "answer": null
  },
  "tools_needed": ["tool_name1", "tool_name2"],
  "plan": [
    "Step 1 ...",
    "Step 2 ...",
    "Step 3 ..."
  ]
}`, currentURL, timeRemaining, truncate(pageText, 2000), truncate(pageHTML, 2000), toolsDescription)
}

func reactPrompt(contextLog, toolsDescription string, template map[string]interface{}, timeRemaining float64) string {
	return fmt.Sprintf(`You are in the middle of solving a data-science quiz question.

Time remaining for this question (approximate): %.1f seconds

Current submission template (JSON):
%s

So far, you have this context (thoughts, tool calls, observations):
----
%s
----

Available tools:
%s

You can continue to think and, if needed, call ONE tool at a time.

Use the following decision pattern:
- THINK about what to do next.
- Optionally CALL a tool if you need external information or computation.
- If you have enough information to produce the final answer, STOP using tools and output a final answer update for the submission template.

Respond in one of these TWO JSON formats:

1) To CALL a tool:

{
  "action": "tool",
  "tool_name": "one of the tools listed above",
  "tool_args": {},
  "reason": "why you chose this tool"
}

2) To PRODUCE FINAL ANSWER (no more tool calls):

{
  "action": "final",
  "updated_submission": {
    "email": "...",
    "secret": "...",
    "url": "...",
    "answer": null
  },
  "explanation": "brief explanation of how you arrived at this answer"
}

Always use valid JSON. Do not include any comments or extra keys.`, timeRemaining, renderTemplate(template), truncate(contextLog, 4000), toolsDescription)
}

func finalizePrompt(contextLog string, template map[string]interface{}, timeRemaining float64) string {
	return fmt.Sprintf(`You are OUT OF TIME for this question (only about %.1f seconds remain).

You must now produce the BEST POSSIBLE ANSWER using only the information you have.

Current submission template:
%s

Context of what has happened so far:
----
%s
----

TASK:
- Do NOT call any tools.
- Update the submission template's "answer" field (and "secret" if required), using your best guess from the context.
- Keep the structure of the submission template exactly the same.

Respond in JSON:

{
  "updated_submission": {
    "email": "...",
    "secret": "...",
    "url": "...",
    "answer": null
  },
  "explanation": "very brief explanation"
}`, timeRemaining, renderTemplate(template), truncate(contextLog, 4000))
}

func renderTemplate(template map[string]interface{}) string {
	raw, err := json.Marshal(template)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
