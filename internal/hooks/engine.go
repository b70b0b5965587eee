package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"

	"github.com/lanternai/lantern/internal/logging"
)

var hookLog = logging.Scope("hooks")

// Handler is one externally defined procedure run at a lifecycle event.
// Run enforces its own timeout and reports ErrTimeout when abandoned.
type Handler interface {
	Kind() string
	Describe() string
	Run(ctx context.Context, ev Event) (Output, error)
}

// Result is the resolution of one dispatched event after merging every
// matched handler's output.
type Result struct {
	// Blocked is set when any handler vetoed the triggering action
	Blocked     bool
	BlockReason string

	// Decision resolves allow/deny/ask for pre_tool_use events.
	// Deny wins over ask, ask wins over allow.
	Decision string

	SystemMessages []string
	SuppressOutput bool

	// UpdatedInput is the last tool-input replacement in declared
	// handler order
	UpdatedInput json.RawMessage

	// Prompt is the last prompt replacement in declared handler order
	Prompt string
}

// Engine dispatches events to their matched handlers. Handlers for one
// event run concurrently, are always joined, and are merged in declared
// order, which is the documented resolution for conflicting updates.
type Engine struct {
	mu       sync.RWMutex
	handlers map[Kind][]registered
}

// NewEngine builds an engine from settings. Prompt handlers need a
// completer; pass nil when none are configured.
func NewEngine(settings Settings, completer Completer) (*Engine, error) {
	handlers, err := settings.build(completer)
	if err != nil {
		return nil, err
	}
	return &Engine{handlers: handlers}, nil
}

// Register adds a handler directly, after those from settings.
// Matcher may be empty to match every event of the kind.
func (e *Engine) Register(kind Kind, matcher string, h Handler) error {
	var re *regexp.Regexp
	if matcher != "" {
		var err error
		re, err = regexp.Compile(matcher)
		if err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = make(map[Kind][]registered)
	}
	e.handlers[kind] = append(e.handlers[kind], registered{matcher: re, handler: h})
	return nil
}

// Dispatch runs every matched handler for the event and merges their
// outputs. Handlers run in parallel; each bounds itself with its own
// timeout, and a timed-out or crashed handler contributes nothing
// unless it explicitly signaled a blocking failure.
func (e *Engine) Dispatch(ctx context.Context, ev Event) Result {
	e.mu.RLock()
	all := e.handlers[ev.Event]
	e.mu.RUnlock()

	target := ev.MatchTarget()
	var matched []registered
	for _, r := range all {
		if r.matches(target) {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return Result{Decision: DecisionAllow}
	}

	outputs := make([]Output, len(matched))
	errs := make([]error, len(matched))

	var wg sync.WaitGroup
	for i, r := range matched {
		wg.Add(1)
		go func(i int, r registered) {
			defer wg.Done()
			outputs[i], errs[i] = r.handler.Run(ctx, ev)
		}(i, r)
	}
	wg.Wait()

	return merge(matched, outputs, errs)
}

// merge folds handler outputs in declared order.
func merge(matched []registered, outputs []Output, errs []error) Result {
	res := Result{Decision: DecisionAllow}

	for i, out := range outputs {
		if err := errs[i]; err != nil {
			if errors.Is(err, ErrTimeout) {
				hookLog.Warnf("%s abandoned after timeout", matched[i].handler.Describe())
			} else {
				hookLog.Warnf("%s failed: %v", matched[i].handler.Describe(), err)
			}
			continue
		}

		if !out.Continues() && !res.Blocked {
			res.Blocked = true
			res.BlockReason = out.Reason
			if res.BlockReason == "" {
				res.BlockReason = "blocked by " + matched[i].handler.Describe()
			}
		}

		switch out.Decision {
		case DecisionDeny:
			res.Decision = DecisionDeny
		case DecisionAsk:
			if res.Decision != DecisionDeny {
				res.Decision = DecisionAsk
			}
		}

		if out.SystemMessage != "" {
			res.SystemMessages = append(res.SystemMessages, out.SystemMessage)
		}
		if out.SuppressOutput {
			res.SuppressOutput = true
		}
		if len(out.UpdatedInput) > 0 {
			res.UpdatedInput = out.UpdatedInput
		}
		if out.Prompt != "" {
			res.Prompt = out.Prompt
		}
	}

	if res.Blocked && res.Decision == DecisionAllow {
		res.Decision = DecisionDeny
	}

	return res
}
