package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/webprobe/pkg/config"
	"github.com/odvcencio/webprobe/pkg/errors"
	"github.com/odvcencio/webprobe/pkg/report"
)

// Metric names recorded by the built-in checks.
const (
	MetricInitialLoadTime   = "initial_load_time"
	MetricDOMContentLoaded  = "domContentLoaded"
	MetricLoadComplete      = "loadComplete"
	MetricFirstPaint        = "firstPaint"
	MetricAssetsCount       = "assets_count"
	MetricScrollPerformance = "scroll_performance"
	MetricCanvases          = "3d_canvases"
	MetricCanvasInfo        = "canvas_info"
	MetricMemoryLeak        = "memory_leak_test"
)

const (
	navigationTimingScript = `(() => {
	const perfData = window.performance.timing;
	const navigation = performance.getEntriesByType('navigation')[0];
	return {
		domContentLoaded: perfData.domContentLoadedEventEnd - perfData.navigationStart,
		loadComplete: perfData.loadEventEnd - perfData.navigationStart,
		firstPaint: navigation ? navigation.domContentLoadedEventEnd : 0
	};
})()`

	memoryScript = `(() => {
	if (performance.memory) {
		return {
			usedJSHeapSize: performance.memory.usedJSHeapSize,
			totalJSHeapSize: performance.memory.totalJSHeapSize
		};
	}
	return null;
})()`

	canvasInfoScript = `(() => {
	const canvases = document.querySelectorAll('canvas');
	return {
		canvas_count: canvases.length,
		canvas_dimensions: Array.from(canvases).map(c => ({width: c.width, height: c.height}))
	};
})()`

	activeElementScript = `document.activeElement ? document.activeElement.tagName : ""`
	scrollBottomScript  = `window.scrollTo(0, document.body.scrollHeight)`
	scrollTopScript     = `window.scrollTo(0, 0)`
)

const (
	keyEscape = "Escape"
	keyTab    = "Tab"
)

type builder func(config.CheckConfig) Check

var builders = map[config.CheckKind]builder{
	config.CheckPageLoad:          func(c config.CheckConfig) Check { return &pageLoadCheck{base{c}} },
	config.CheckNavigation:        func(c config.CheckConfig) Check { return &navigationCheck{base{c}} },
	config.CheckCommandPalette:    func(c config.CheckConfig) Check { return &commandPaletteCheck{base{c}} },
	config.CheckFeatures:          func(c config.CheckConfig) Check { return &featuresCheck{base{c}} },
	config.CheckScrollPerformance: func(c config.CheckConfig) Check { return &scrollCheck{base{c}} },
	config.CheckKeyboard:          func(c config.CheckConfig) Check { return &keyboardCheck{base{c}} },
	config.CheckCanvas:            func(c config.CheckConfig) Check { return &canvasCheck{base{c}} },
	config.CheckMemoryLeak:        func(c config.CheckConfig) Check { return &memoryLeakCheck{base{c}} },
	config.CheckAPIIntegration:    func(c config.CheckConfig) Check { return &apiCheck{base{c}} },
}

// BuildCheck validates cfg and returns the check for its kind.
func BuildCheck(cfg config.CheckConfig) (Check, error) {
	build, ok := builders[cfg.Kind]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeCheckUnknown, "unknown check kind %q", cfg.Kind)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return build(cfg), nil
}

// BuildChecks builds every configured check, in order.
func BuildChecks(cfgs []config.CheckConfig) ([]Check, error) {
	checks := make([]Check, 0, len(cfgs))
	for i, cfg := range cfgs {
		check, err := BuildCheck(cfg)
		if err != nil {
			if e, ok := errors.As(err); ok {
				return nil, e.WithContext("index", i)
			}
			return nil, err
		}
		checks = append(checks, check)
	}
	return checks, nil
}

type base struct {
	cfg config.CheckConfig
}

func (b base) Name() string           { return b.cfg.DisplayName() }
func (b base) Kind() config.CheckKind { return b.cfg.Kind }

func (b base) interval(def time.Duration) time.Duration {
	if b.cfg.Interval > 0 {
		return b.cfg.Interval
	}
	return def
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}

func formatMillis(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "ms"
}

// evaluateInto runs expression and decodes its value into dst.
func evaluateInto(ctx context.Context, env *Env, expression string, dst any) error {
	raw, err := env.Session.Evaluate(ctx, expression)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decoding script result: %w", err)
	}
	return nil
}

// truthy applies JavaScript truthiness to a JSON value.
func truthy(raw json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

type pageLoadCheck struct{ base }

func (c *pageLoadCheck) Run(ctx context.Context, env *Env) error {
	loadTime, err := env.Goto(ctx, c.cfg.Path, c.cfg.Settle)
	if err != nil {
		return err
	}
	env.Metric(MetricInitialLoadTime, formatSeconds(loadTime))

	var timing struct {
		DOMContentLoaded float64 `json:"domContentLoaded"`
		LoadComplete     float64 `json:"loadComplete"`
		FirstPaint       float64 `json:"firstPaint"`
	}
	if err := evaluateInto(ctx, env, navigationTimingScript, &timing); err != nil {
		return err
	}
	env.Metric(MetricDOMContentLoaded, timing.DOMContentLoaded)
	env.Metric(MetricLoadComplete, timing.LoadComplete)
	env.Metric(MetricFirstPaint, timing.FirstPaint)

	env.Record(c.Name(), true, map[string]any{
		"load_time": formatSeconds(loadTime),
		"dom_ready": formatMillis(timing.DOMContentLoaded),
	})
	return nil
}

type navigationCheck struct{ base }

// Run records one result per page. A page that fails to load does not stop
// the remaining pages.
func (c *navigationCheck) Run(ctx context.Context, env *Env) error {
	for _, page := range c.cfg.Pages {
		label := page.Name
		if label == "" {
			label = page.Path
		}
		name := c.Name() + " - " + label
		url := env.URL(page.Path)

		if _, err := env.Goto(ctx, page.Path, c.cfg.Settle); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			env.Record(name, false, map[string]any{"error": err.Error()})
			continue
		}
		n, err := env.Session.Count(ctx, "body")
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			env.Record(name, false, map[string]any{"error": err.Error()})
			continue
		}
		env.Record(name, n > 0, map[string]any{"url": url})
	}
	return nil
}

type commandPaletteCheck struct{ base }

func (c *commandPaletteCheck) Run(ctx context.Context, env *Env) error {
	if _, err := env.Goto(ctx, c.cfg.Path, 0); err != nil {
		return err
	}
	key, mods, err := c.cfg.ShortcutKey()
	if err != nil {
		return err
	}
	if err := env.Session.Press(ctx, key, mods...); err != nil {
		return err
	}
	if err := env.Wait(ctx, c.cfg.Settle); err != nil {
		return err
	}

	visible := false
	for _, sel := range c.cfg.Selectors {
		n, err := env.Session.Count(ctx, sel)
		if err != nil {
			return err
		}
		if n > 0 {
			visible = true
			break
		}
	}
	if !visible {
		env.Record(c.Name(), false, map[string]any{"error": "Command palette not found or not visible"})
		return nil
	}

	pause := c.interval(300 * time.Millisecond)
	searchWorks := false
	if c.cfg.Query != "" {
		input := c.cfg.InputSelector
		if input == "" {
			input = "input"
		}
		n, err := env.Session.Count(ctx, input)
		if err != nil {
			return err
		}
		if n > 0 {
			if err := env.Session.Type(ctx, input, c.cfg.Query); err != nil {
				return err
			}
			if err := env.Wait(ctx, pause); err != nil {
				return err
			}
			searchWorks = true
		}
	}

	if err := env.Session.Press(ctx, keyEscape); err != nil {
		return err
	}
	if err := env.Wait(ctx, pause); err != nil {
		return err
	}
	env.Record(c.Name(), true, map[string]any{
		"opens_with_keyboard": true,
		"search_works":        searchWorks,
	})
	return nil
}

type featuresCheck struct{ base }

// Run passes when at least MinMatches probes match and every required probe
// matched. Details map each probe name to whether it matched.
func (c *featuresCheck) Run(ctx context.Context, env *Env) error {
	if _, err := env.Goto(ctx, c.cfg.Path, c.cfg.Settle); err != nil {
		return err
	}

	details := make(map[string]any, len(c.cfg.Probes))
	matched := 0
	missingRequired := false
	for i, p := range c.cfg.Probes {
		ok, err := probe(ctx, env, p)
		if err != nil {
			return fmt.Errorf("probe %s: %w", probeName(i, p), err)
		}
		details[probeName(i, p)] = ok
		switch {
		case ok:
			matched++
		case p.Required:
			missingRequired = true
		}
	}
	env.Record(c.Name(), matched >= c.cfg.MinMatches && !missingRequired, details)
	return nil
}

func probeName(i int, p config.ProbeConfig) string {
	if p.Name != "" {
		return p.Name
	}
	return "probe_" + strconv.Itoa(i)
}

// probe reports whether any selector matches at least MinCount elements, or
// whether the script evaluates truthy.
func probe(ctx context.Context, env *Env, p config.ProbeConfig) (bool, error) {
	want := p.MinCount
	if want < 1 {
		want = 1
	}
	for _, sel := range p.Selectors {
		n, err := env.Session.Count(ctx, sel)
		if err != nil {
			return false, err
		}
		if n >= want {
			return true, nil
		}
	}
	if strings.TrimSpace(p.Script) == "" {
		return false, nil
	}
	raw, err := env.Session.Evaluate(ctx, p.Script)
	if err != nil {
		return false, err
	}
	return truthy(raw), nil
}

type scrollCheck struct{ base }

func (c *scrollCheck) Run(ctx context.Context, env *Env) error {
	if _, err := env.Goto(ctx, c.cfg.Path, c.cfg.Settle); err != nil {
		return err
	}
	count, err := env.Session.Count(ctx, strings.Join(c.cfg.Selectors, ", "))
	if err != nil {
		return err
	}

	start := env.Now()
	if _, err := env.Session.Evaluate(ctx, scrollBottomScript); err != nil {
		return err
	}
	if err := env.Wait(ctx, c.interval(500*time.Millisecond)); err != nil {
		return err
	}
	if _, err := env.Session.Evaluate(ctx, scrollTopScript); err != nil {
		return err
	}
	scrollTime := env.Since(start)

	env.Metric(MetricAssetsCount, count)
	env.Metric(MetricScrollPerformance, formatSeconds(scrollTime))
	env.Record(c.Name(), true, map[string]any{
		"assets_loaded": count,
		"scroll_time":   formatSeconds(scrollTime),
	})
	return nil
}

type keyboardCheck struct{ base }

var focusableTags = map[string]bool{"A": true, "BUTTON": true, "INPUT": true}

// Run presses Tab and checks that focus lands on an interactive element, then
// presses Escape. It passes when either key worked.
func (c *keyboardCheck) Run(ctx context.Context, env *Env) error {
	if _, err := env.Goto(ctx, c.cfg.Path, c.cfg.Settle); err != nil {
		return err
	}
	if err := env.Session.Press(ctx, keyTab); err != nil {
		return err
	}
	if err := env.Wait(ctx, c.interval(200*time.Millisecond)); err != nil {
		return err
	}
	var focused string
	if err := evaluateInto(ctx, env, activeElementScript, &focused); err != nil {
		return err
	}

	working := 0
	if focusableTags[strings.ToUpper(focused)] {
		working++
	}
	if err := env.Session.Press(ctx, keyEscape); err != nil {
		return err
	}
	working++

	env.Record(c.Name(), working > 0, map[string]any{
		"shortcuts_tested": 2,
		"working":          working,
		"focused":          focused,
	})
	return nil
}

type canvasCheck struct{ base }

func (c *canvasCheck) Run(ctx context.Context, env *Env) error {
	if _, err := env.Goto(ctx, c.cfg.Path, c.cfg.Settle); err != nil {
		return err
	}
	n, err := env.Session.Count(ctx, "canvas")
	if err != nil {
		return err
	}
	if n == 0 {
		env.Record(c.Name(), false, map[string]any{"error": "No canvas elements found"})
		return nil
	}

	raw, err := env.Session.Evaluate(ctx, canvasInfoScript)
	if err != nil {
		return err
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return fmt.Errorf("decoding canvas info: %w", err)
	}
	info := compact.String()

	env.Metric(MetricCanvases, n)
	env.Metric(MetricCanvasInfo, info)
	env.Record(c.Name(), true, map[string]any{
		"canvas_count": n,
		"details":      info,
	})
	return nil
}

type memoryLeakCheck struct{ base }

// Run toggles the shortcut and Escape Iterations times and compares JS heap
// usage before and after. Without performance.memory the check passes with a
// note.
func (c *memoryLeakCheck) Run(ctx context.Context, env *Env) error {
	if _, err := env.Goto(ctx, c.cfg.Path, c.cfg.Settle); err != nil {
		return err
	}
	before, err := sampleMemory(ctx, env)
	if err != nil {
		return err
	}

	key, mods, err := c.cfg.ShortcutKey()
	if err != nil {
		return err
	}
	pause := c.interval(100 * time.Millisecond)
	for i := 0; i < c.cfg.Iterations; i++ {
		if err := env.Session.Press(ctx, key, mods...); err != nil {
			return err
		}
		if err := env.Wait(ctx, pause); err != nil {
			return err
		}
		if err := env.Session.Press(ctx, keyEscape); err != nil {
			return err
		}
		if err := env.Wait(ctx, pause); err != nil {
			return err
		}
	}

	after, err := sampleMemory(ctx, env)
	if err != nil {
		return err
	}
	mb, ok := report.MemoryDelta(before, after)
	if !ok {
		env.Metric(MetricMemoryLeak, report.Unavailable)
		env.Record(c.Name(), true, map[string]any{"note": "performance.memory not available"})
		return nil
	}

	env.Metric(MetricMemoryLeak, fmt.Sprintf("%.2fMB increase", mb))
	env.Record(c.Name(), mb < c.cfg.ThresholdMB, map[string]any{
		"memory_increase_mb": fmt.Sprintf("%.2f", mb),
		"threshold":          strconv.FormatFloat(c.cfg.ThresholdMB, 'f', -1, 64) + "MB",
	})
	return nil
}

// sampleMemory returns nil when the page exposes no performance.memory.
func sampleMemory(ctx context.Context, env *Env) (*report.MemorySample, error) {
	var sample *report.MemorySample
	if err := evaluateInto(ctx, env, memoryScript, &sample); err != nil {
		return nil, err
	}
	return sample, nil
}

type apiCheck struct{ base }

// Run reads the network events observed so far, so it belongs late in a
// journey after the pages that call the API.
func (c *apiCheck) Run(ctx context.Context, env *Env) error {
	if _, err := env.Goto(ctx, c.cfg.Path, c.cfg.Settle); err != nil {
		return err
	}
	summary := report.SummarizeAPICalls(env.Report.NetworkEvents(), env.APIPathFragment)
	if len(summary.Calls) == 0 {
		env.Record(c.Name(), false, map[string]any{"error": "No API calls detected"})
		return nil
	}
	env.Record(c.Name(), summary.Successful > 0, map[string]any{
		"total_requests": len(summary.Calls),
		"successful":     summary.Successful,
		"avg_status":     summary.AverageStatus(),
	})
	return nil
}
