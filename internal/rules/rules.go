// Package rules loads project instruction files. Rules are plain
// markdown files named LANTERN.md, discovered from the global config
// directory down to the working directory, and injected into the
// system context in discovery order.
package rules

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/lanternai/lantern/internal/logging"
)

var ruleLog = logging.Scope("rules")

// FileName is the instruction file looked for at each level.
const FileName = "LANTERN.md"

// MaxFileSize caps one rules file so a runaway file cannot flood the
// context.
const MaxFileSize = 64 * 1024

// Rule is one loaded instruction file.
type Rule struct {
	Path    string
	Content string
}

// Load returns the rules that apply to workDir, outermost first: the
// global file under configDir, then LANTERN.md files from the
// filesystem root down to workDir. Unreadable files are skipped.
func Load(configDir, workDir string) []Rule {
	var out []Rule

	if configDir != "" {
		if r, ok := read(filepath.Join(configDir, FileName)); ok {
			out = append(out, r)
		}
	}

	for _, dir := range lineage(workDir) {
		if r, ok := read(filepath.Join(dir, FileName)); ok {
			out = append(out, r)
		}
	}
	return out
}

// Render joins rules for system-context injection, each attributed to
// its source path.
func Render(rules []Rule) string {
	if len(rules) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range rules {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Contents of " + r.Path + ":\n\n" + r.Content)
	}
	return b.String()
}

// lineage returns the directories from the root down to dir.
func lineage(dir string) []string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil
	}
	var chain []string
	for {
		chain = append([]string{abs}, chain...)
		parent := filepath.Dir(abs)
		if parent == abs {
			break
		}
		abs = parent
	}
	return chain
}

func read(path string) (Rule, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return Rule{}, false
	}
	if info.Size() > MaxFileSize {
		ruleLog.Warnf("skipping %s: %d bytes exceeds limit", path, info.Size())
		return Rule{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		ruleLog.Warnf("skipping %s: %v", path, err)
		return Rule{}, false
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return Rule{}, false
	}
	return Rule{Path: path, Content: content}, true
}
