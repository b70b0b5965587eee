package compactor

import (
	"fmt"
	"strings"
)

// SummarySections are the required headings of a compaction summary,
// in order. A summary missing any of them is rejected and compaction
// is deferred.
var SummarySections = []string{
	"Primary Request and Intent",
	"Key Technical Concepts",
	"Files and Code Sections",
	"Errors and Fixes",
	"Problem Solving",
	"Verbatim User Messages",
	"Pending Tasks",
	"Current Work",
	"Optional Next Step",
}

// SummarySystemPrompt instructs the model to produce the structured
// summary. The section list is generated so it cannot drift from the
// validator.
func SummarySystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are summarizing a conversation so it can be continued in a fresh context. ")
	b.WriteString("Produce a markdown summary with exactly these numbered sections, in order:\n\n")
	for i, name := range SummarySections {
		fmt.Fprintf(&b, "%d. %s\n", i+1, name)
	}
	b.WriteString(`
Section guidance:
- Primary Request and Intent: every explicit request from the user, in detail.
- Key Technical Concepts: technologies, frameworks, and patterns discussed.
- Files and Code Sections: files examined or changed, with why they matter and key snippets.
- Errors and Fixes: each error hit, how it was fixed, and any user feedback on the fix.
- Problem Solving: problems solved and any ongoing troubleshooting.
- Verbatim User Messages: all user messages excluding tool output, quoted exactly.
- Pending Tasks: work the user asked for that is not done yet.
- Current Work: precisely what was in progress at the end, with file names and code.
- Optional Next Step: the single next step, only if it directly continues the current work,
  with a verbatim quote from the conversation showing the task it came from. Omit content
  here rather than invent a step the user did not ask for.

Output only the summary.`)
	return b.String()
}

// ValidateSummary checks that every required section heading is
// present. The model sometimes drops sections under pressure; a
// partial summary would silently lose history, so reject it.
func ValidateSummary(summary string) error {
	if strings.TrimSpace(summary) == "" {
		return fmt.Errorf("empty summary")
	}
	var missing []string
	for _, name := range SummarySections {
		if !strings.Contains(summary, name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("summary missing sections: %s", strings.Join(missing, ", "))
	}
	return nil
}
