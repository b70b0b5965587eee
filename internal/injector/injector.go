// Package injector assembles the canonical request for an exchange.
// Context enters in three fixed tiers: durable system context (rules
// and core memory), the session's turn history, and the triggering
// message with its attachments last. Injection sources are best
// effort; a slow or failing source is skipped, never fatal.
package injector

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lanternai/lantern/internal/canonical"
	"github.com/lanternai/lantern/internal/logging"
	"github.com/lanternai/lantern/internal/rules"
)

var injLog = logging.Scope("injector")

// SourceTimeout bounds each injection source. The exchange must not
// stall on a wedged source.
const SourceTimeout = time.Second

// Source contributes one piece of injected context. An empty string
// means nothing to inject.
type Source interface {
	Name() string
	Collect(ctx context.Context) (string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc struct {
	SourceName string
	Fn         func(ctx context.Context) (string, error)
}

func (s SourceFunc) Name() string { return s.SourceName }
func (s SourceFunc) Collect(ctx context.Context) (string, error) {
	return s.Fn(ctx)
}

// Input is everything the injector needs to build one request.
type Input struct {
	Turns       []canonical.Turn
	Prompt      string
	Attachments []canonical.AttachmentRef

	Model       string
	Tools       []canonical.ToolDefinition
	Thinking    *canonical.ThinkingConfig
	MaxTokens   int
	Temperature float64

	// SystemPrefix and SystemSuffix come from configuration and wrap
	// the assembled system context
	SystemPrefix string
	SystemSuffix string
}

// Injector builds requests from session state and injection sources.
type Injector struct {
	system   []Source // tier one, joins the system context
	reminder []Source // per-exchange, wrapped in a system reminder
	rules    []rules.Rule
}

// New creates an injector over the given rules. Sources are added with
// AddSystemSource and AddReminderSource.
func New(loaded []rules.Rule) *Injector {
	return &Injector{rules: loaded}
}

// AddSystemSource registers a tier-one source whose output joins the
// durable system context.
func (i *Injector) AddSystemSource(s Source) { i.system = append(i.system, s) }

// AddReminderSource registers a per-exchange source whose output is
// attached to the triggering message inside a system reminder.
func (i *Injector) AddReminderSource(s Source) { i.reminder = append(i.reminder, s) }

// UserMessage builds the triggering message as it is persisted in the
// turn log: attachments first, prompt text last, no injected context.
func UserMessage(prompt string, attachments []canonical.AttachmentRef) canonical.Message {
	var segments []canonical.Segment
	for idx := range attachments {
		a := attachments[idx]
		segments = append(segments, canonical.Segment{
			Type:       canonical.SegmentAttachment,
			Attachment: &a,
		})
	}
	segments = append(segments, canonical.Segment{
		Type: canonical.SegmentText,
		Text: prompt,
	})
	return canonical.Message{
		ID:       uuid.NewString(),
		Role:     canonical.RoleUser,
		Segments: segments,
	}
}

// Build assembles the request for one exchange. The triggering message
// is always last; attachments ride on it ahead of the prompt text.
// Per-exchange reminders are spliced into the outgoing copy only, never
// into the message callers persist, so they cannot compound across
// turns.
func (i *Injector) Build(ctx context.Context, in Input) *canonical.Request {
	var system []string
	if in.SystemPrefix != "" {
		system = append(system, in.SystemPrefix)
	}
	if r := rules.Render(i.rules); r != "" {
		system = append(system, r)
	}
	system = append(system, i.collect(ctx, i.system)...)
	if in.SystemSuffix != "" {
		system = append(system, in.SystemSuffix)
	}

	messages := canonical.Flatten(in.Turns)

	outgoing := UserMessage(in.Prompt, in.Attachments)
	if reminders := i.collect(ctx, i.reminder); len(reminders) > 0 {
		reminder := canonical.Segment{
			Type: canonical.SegmentText,
			Text: wrapReminder(strings.Join(reminders, "\n\n")),
		}
		n := len(outgoing.Segments)
		segments := make([]canonical.Segment, 0, n+1)
		segments = append(segments, outgoing.Segments[:n-1]...)
		segments = append(segments, reminder, outgoing.Segments[n-1])
		outgoing.Segments = segments
	}
	messages = append(messages, outgoing)

	return &canonical.Request{
		Model:       in.Model,
		System:      strings.Join(system, "\n\n"),
		Messages:    messages,
		Tools:       in.Tools,
		Thinking:    in.Thinking,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
	}
}

// collect runs each source under its own timeout. Failures and
// timeouts log at warn and contribute nothing. A source that ignores
// its context is abandoned at the deadline; its late result is dropped.
func (i *Injector) collect(ctx context.Context, sources []Source) []string {
	type result struct {
		text string
		err  error
	}

	var out []string
	for _, s := range sources {
		sctx, cancel := context.WithTimeout(ctx, SourceTimeout)
		ch := make(chan result, 1)
		go func(s Source) {
			text, err := s.Collect(sctx)
			ch <- result{text, err}
		}(s)

		select {
		case r := <-ch:
			if r.err != nil {
				injLog.Warnf("source %s skipped: %v", s.Name(), r.err)
			} else if strings.TrimSpace(r.text) != "" {
				out = append(out, r.text)
			}
		case <-sctx.Done():
			injLog.Warnf("source %s abandoned after timeout", s.Name())
		}
		cancel()
	}
	return out
}

func wrapReminder(text string) string {
	return "<system-reminder>\n" + text + "\n</system-reminder>"
}
