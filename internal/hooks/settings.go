package hooks

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// HandlerConfig declares one handler in the settings file.
type HandlerConfig struct {
	Type    string `json:"type" yaml:"type"`
	Command string `json:"command,omitempty" yaml:"command,omitempty"`
	Prompt  string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	// Timeout in seconds; 0 means the default
	Timeout int `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// MatcherConfig groups handlers behind one matcher expression. An empty
// matcher matches every event of the kind.
type MatcherConfig struct {
	Matcher string          `json:"matcher,omitempty" yaml:"matcher,omitempty"`
	Hooks   []HandlerConfig `json:"hooks" yaml:"hooks"`
}

// Settings maps event kinds to their matcher groups, in declared order.
type Settings map[Kind][]MatcherConfig

// LoadSettings reads a hook settings file. The shape is the familiar
// settings.json hooks map. A missing file yields empty settings.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Settings{}, nil
	}
	if err != nil {
		return nil, err
	}

	var file struct {
		Hooks map[string][]MatcherConfig `json:"hooks"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse hook settings %s: %w", path, err)
	}

	settings := Settings{}
	for name, groups := range file.Hooks {
		kind := Kind(name)
		if !kind.Valid() {
			return nil, fmt.Errorf("unknown hook event %q in %s", name, path)
		}
		settings[kind] = groups
	}
	return settings, nil
}

// registered pairs a compiled matcher with its handler, keeping the
// declared position for merge ordering.
type registered struct {
	matcher *regexp.Regexp
	handler Handler
}

func (r registered) matches(target string) bool {
	if r.matcher == nil {
		return true
	}
	return r.matcher.MatchString(target)
}

// build compiles the settings into registered handlers per event kind.
func (s Settings) build(completer Completer) (map[Kind][]registered, error) {
	out := make(map[Kind][]registered, len(s))
	for kind, groups := range s {
		for _, group := range groups {
			var matcher *regexp.Regexp
			if group.Matcher != "" {
				var err error
				matcher, err = regexp.Compile(group.Matcher)
				if err != nil {
					return nil, fmt.Errorf("bad matcher %q for %s: %w", group.Matcher, kind, err)
				}
			}
			for _, hc := range group.Hooks {
				h, err := newHandler(hc, completer)
				if err != nil {
					return nil, fmt.Errorf("event %s: %w", kind, err)
				}
				out[kind] = append(out[kind], registered{matcher: matcher, handler: h})
			}
		}
	}
	return out, nil
}

func newHandler(hc HandlerConfig, completer Completer) (Handler, error) {
	timeout := time.Duration(hc.Timeout) * time.Second
	switch hc.Type {
	case "command":
		if hc.Command == "" {
			return nil, fmt.Errorf("command handler without command")
		}
		return CommandHandler{Command: hc.Command, Timeout: timeout}, nil
	case "prompt":
		if hc.Prompt == "" {
			return nil, fmt.Errorf("prompt handler without prompt")
		}
		if completer == nil {
			return nil, fmt.Errorf("prompt handler configured but no model completer available")
		}
		return PromptHandler{Prompt: hc.Prompt, Timeout: timeout, Completer: completer}, nil
	default:
		return nil, fmt.Errorf("unknown handler type %q", hc.Type)
	}
}
