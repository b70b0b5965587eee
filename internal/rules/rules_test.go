package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadOrdersOutermostFirst(t *testing.T) {
	root := t.TempDir()
	configDir := filepath.Join(root, "config")
	project := filepath.Join(root, "work", "project")

	write(t, filepath.Join(configDir, FileName), "global rule")
	write(t, filepath.Join(root, "work", FileName), "parent rule")
	write(t, filepath.Join(project, FileName), "project rule")

	loaded := Load(configDir, project)
	if len(loaded) != 3 {
		t.Fatalf("loaded %d rules, want 3", len(loaded))
	}
	if loaded[0].Content != "global rule" || loaded[2].Content != "project rule" {
		t.Errorf("wrong order: %+v", loaded)
	}
}

func TestLoadSkipsEmptyAndMissing(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, FileName), "   \n  ")

	if loaded := Load("", dir); len(loaded) != 0 {
		t.Errorf("blank file loaded: %+v", loaded)
	}
	if loaded := Load("", t.TempDir()); len(loaded) != 0 {
		t.Errorf("missing file loaded: %+v", loaded)
	}
}

func TestLoadSkipsOversized(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, FileName), strings.Repeat("x", MaxFileSize+1))

	if loaded := Load("", dir); len(loaded) != 0 {
		t.Errorf("oversized file loaded")
	}
}

func TestRenderAttributesSources(t *testing.T) {
	out := Render([]Rule{
		{Path: "/a/LANTERN.md", Content: "one"},
		{Path: "/a/b/LANTERN.md", Content: "two"},
	})
	if !strings.Contains(out, "Contents of /a/LANTERN.md") || !strings.Contains(out, "two") {
		t.Errorf("render = %q", out)
	}
	if Render(nil) != "" {
		t.Error("empty rules should render nothing")
	}
}
