package sequence

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/hazyhaar/domdrive/internal/action"
	"github.com/hazyhaar/domdrive/internal/assert"
	"github.com/hazyhaar/domdrive/internal/collect"
	"github.com/hazyhaar/domdrive/internal/observability"
	"github.com/hazyhaar/domdrive/internal/page/pagetest"
	"github.com/hazyhaar/domdrive/internal/query"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newExecutor(t *testing.T, m *observability.Metrics) *Executor {
	t.Helper()
	return New(
		action.New(100*time.Millisecond, nil),
		query.New(t.TempDir(), nil),
		Config{AssertionTimeout: 200 * time.Millisecond, Metrics: m},
	)
}

// shop is a page with a search form whose submit button logs, calls the
// API and navigates to the results page.
func shop() *pagetest.Fake {
	f := pagetest.New("https://shop.example/", "Shop")
	f.SetElement("#form", &pagetest.Element{})
	f.SetElement("#q", &pagetest.Element{})
	f.SetElement("#submit", &pagetest.Element{OnClick: func(f *pagetest.Fake) {
		f.EmitConsole("log", "submitting")
		f.Fetch("POST", "https://shop.example/api/search", 200)
		f.Navigate(context.Background(), "https://shop.example/results")
	}})
	return f
}

func exists(sel string) Step {
	return AssertStep(assert.Condition{ElementExists: &sel}, 0)
}

func urlContains(s string) Step {
	return AssertStep(assert.Condition{URLContains: &s}, 0)
}

func fill(sel, v string) Step {
	return ActionStep(action.Action{Type: action.Fill, Selector: sel, Value: v})
}

func click(sel string) Step {
	return ActionStep(action.Action{Type: action.Click, Selector: sel})
}

func allCollectors() collect.Options {
	return collect.Options{
		Console:    collect.ConsoleOptions{Enabled: true},
		Network:    collect.NetworkOptions{Enabled: true},
		Navigation: collect.NavigationOptions{Enabled: true},
	}
}

func stepEvents(events []collect.Event) []collect.Event {
	var out []collect.Event
	for _, e := range events {
		if e.Type == collect.TypeStep {
			out = append(out, e)
		}
	}
	return out
}

func eventTypes(events []collect.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestRun_AllStepsSucceed(t *testing.T) {
	f := shop()
	steps := []Step{exists("#form"), fill("#q", "hi"), click("#submit")}

	res := newExecutor(t, nil).Run(context.Background(), f, steps, Options{})

	if !res.Success || res.Completed != 3 || res.Total != 3 {
		t.Fatalf("result: got success=%v completed=%d total=%d (%s)", res.Success, res.Completed, res.Total, res.FailureReason)
	}
	if res.FailedAt != nil {
		t.Fatalf("FailedAt: got %d, want unset", *res.FailedAt)
	}
	se := stepEvents(res.Events)
	if len(se) != 3 {
		t.Fatalf("step events: got %d, want 3", len(se))
	}
	for i, e := range se {
		if *e.Index != i || !e.Result.Success {
			t.Fatalf("step event %d: got index=%d success=%v", i, *e.Index, e.Result.Success)
		}
	}
	if res.FinalState.URL != "https://shop.example/results" || res.FinalState.Title != "Shop" {
		t.Fatalf("FinalState: got %+v", res.FinalState)
	}
}

func TestRun_StopsAtFirstFailure(t *testing.T) {
	f := shop()
	steps := []Step{exists("#form"), exists("#missing"), fill("#q", "x")}

	res := newExecutor(t, nil).Run(context.Background(), f, steps, Options{})

	if res.Success {
		t.Fatal("Success: got true, want false")
	}
	if res.FailedAt == nil || *res.FailedAt != 1 {
		t.Fatalf("FailedAt: got %v, want 1", res.FailedAt)
	}
	if res.Completed != 1 {
		t.Fatalf("Completed: got %d, want 1", res.Completed)
	}
	if !strings.Contains(res.FailureReason, "#missing") {
		t.Fatalf("FailureReason: got %q", res.FailureReason)
	}
	if el, _ := f.Element("#q"); el.Value != "" {
		t.Fatalf("#q: got %q, third step must not run", el.Value)
	}
	if n := len(stepEvents(res.Events)); n != 2 {
		t.Fatalf("step events: got %d, want 2", n)
	}

	failed := stepEvents(res.Events)[1]
	ar, ok := failed.Result.Data.(*assert.Result)
	if !ok || ar.Condition != assert.ElementExists {
		t.Fatalf("failing assert data: got %#v", failed.Result.Data)
	}
}

func TestRun_PrefixProperty(t *testing.T) {
	const n = 5
	for k := 0; k < n; k++ {
		f := shop()
		steps := make([]Step, n)
		for i := range steps {
			steps[i] = exists("#form")
		}
		steps[k] = urlContains("/never")

		res := newExecutor(t, nil).Run(context.Background(), f, steps, Options{})

		if res.Success || res.FailedAt == nil || *res.FailedAt != k || res.Completed != k {
			t.Fatalf("k=%d: got success=%v failed_at=%v completed=%d", k, res.Success, res.FailedAt, res.Completed)
		}
		for _, e := range stepEvents(res.Events) {
			if *e.Index > k {
				t.Fatalf("k=%d: step event for index %d", k, *e.Index)
			}
		}
	}
}

func TestRun_EventsDuringStepPrecedeItsStepEvent(t *testing.T) {
	f := shop()
	steps := []Step{fill("#q", "hi"), click("#submit"), urlContains("/results")}

	res := newExecutor(t, nil).Run(context.Background(), f, steps, Options{Collect: allCollectors()})
	if !res.Success {
		t.Fatalf("run failed: %s", res.FailureReason)
	}

	want := []string{"step", "console", "network", "navigation", "step", "step"}
	if diff := cmp.Diff(want, eventTypes(res.Events)); diff != "" {
		t.Fatalf("event order (-want +got):\n%s", diff)
	}

	nav := res.Events[3]
	if nav.From != "https://shop.example/" || nav.To != "https://shop.example/results" {
		t.Fatalf("navigation: got %s -> %s", nav.From, nav.To)
	}
	netw := res.Events[2]
	if netw.Method != "POST" || netw.Status != 200 || netw.Timing == nil {
		t.Fatalf("network: got %+v", netw)
	}

	var last int64
	for i, e := range res.Events {
		if e.Timestamp < last {
			t.Fatalf("event %d: timestamp %d < previous %d", i, e.Timestamp, last)
		}
		last = e.Timestamp
	}
}

func TestRun_ConsoleDisabledRecordsNothing(t *testing.T) {
	f := shop()
	opts := allCollectors()
	opts.Console.Enabled = false

	res := newExecutor(t, nil).Run(context.Background(), f, []Step{click("#submit")}, Options{Collect: opts})
	for _, e := range res.Events {
		if e.Type == collect.TypeConsole {
			t.Fatalf("console event with console capture disabled: %+v", e)
		}
	}
}

func TestRun_ConsoleErrorLevelDropsLowerLevels(t *testing.T) {
	f := pagetest.New("https://shop.example/", "Shop")
	f.SetElement("#noisy", &pagetest.Element{OnClick: func(f *pagetest.Fake) {
		f.EmitConsole("log", "a")
		f.EmitConsole("info", "b")
		f.EmitConsole("debug", "c")
		f.EmitConsole("error", "d")
	}})
	opts := Options{Collect: collect.Options{Console: collect.ConsoleOptions{Enabled: true, Level: "error"}}}

	res := newExecutor(t, nil).Run(context.Background(), f, []Step{click("#noisy")}, opts)

	var got []string
	for _, e := range res.Events {
		if e.Type == collect.TypeConsole {
			got = append(got, e.Level+":"+e.Message)
		}
	}
	if diff := cmp.Diff([]string{"error:d"}, got); diff != "" {
		t.Fatalf("console events (-want +got):\n%s", diff)
	}
}

func TestRun_NetworkFilter(t *testing.T) {
	f := pagetest.New("https://shop.example/", "Shop")
	f.SetElement("#load", &pagetest.Element{OnClick: func(f *pagetest.Fake) {
		f.Fetch("GET", "https://shop.example/static/app.js", 200)
		f.Fetch("GET", "https://shop.example/api/search", 200)
	}})
	opts := Options{Collect: collect.Options{Network: collect.NetworkOptions{Enabled: true, Filter: "api/"}}}

	res := newExecutor(t, nil).Run(context.Background(), f, []Step{click("#load")}, opts)

	var urls []string
	for _, e := range res.Events {
		if e.Type == collect.TypeNetwork {
			urls = append(urls, e.URL)
		}
	}
	if diff := cmp.Diff([]string{"https://shop.example/api/search"}, urls); diff != "" {
		t.Fatalf("network events (-want +got):\n%s", diff)
	}
}

func TestRun_ListenersDetachedOnEveryPath(t *testing.T) {
	cases := map[string]func(f *pagetest.Fake) []Step{
		"success": func(f *pagetest.Fake) []Step { return []Step{click("#submit")} },
		"failure": func(f *pagetest.Fake) []Step { return []Step{exists("#missing"), click("#submit")} },
		"panic": func(f *pagetest.Fake) []Step {
			f.PanicOn("click")
			return []Step{click("#submit")}
		},
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			f := shop()
			steps := build(f)
			res := newExecutor(t, nil).Run(context.Background(), f, steps, Options{Collect: allCollectors()})

			if n := f.Listeners(); n != 0 {
				t.Fatalf("listeners after run: got %d, want 0", n)
			}
			before := len(res.Events)
			f.EmitConsole("error", "after the run")
			f.Fetch("GET", "https://shop.example/api/late", 200)
			f.EmitNavigation("https://shop.example/late", true)
			if len(res.Events) != before {
				t.Fatal("events appended after the run")
			}
		})
	}
}

func TestRun_PanicBecomesFailingStep(t *testing.T) {
	f := shop()
	f.PanicOn("click")

	res := newExecutor(t, nil).Run(context.Background(), f, []Step{exists("#form"), click("#submit"), exists("#form")}, Options{})

	if res.Success || res.FailedAt == nil || *res.FailedAt != 1 {
		t.Fatalf("result: got success=%v failed_at=%v", res.Success, res.FailedAt)
	}
	if !strings.Contains(res.FailureReason, "panicked") {
		t.Fatalf("FailureReason: got %q", res.FailureReason)
	}
}

func TestRun_ValidationErrorFailsStepWithoutTouchingPage(t *testing.T) {
	f := shop()
	res := newExecutor(t, nil).Run(context.Background(), f, []Step{fill("#q", "")}, Options{})

	if res.Success || res.Completed != 0 {
		t.Fatalf("result: got success=%v completed=%d", res.Success, res.Completed)
	}
	if !strings.Contains(res.FailureReason, action.ErrInvalidAction.Error()) {
		t.Fatalf("FailureReason: got %q", res.FailureReason)
	}
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, "fill") {
			t.Fatalf("page touched by invalid action: %v", f.Calls())
		}
	}
}

func TestRun_InteractionErrorIsFailingStep(t *testing.T) {
	f := shop()
	res := newExecutor(t, nil).Run(context.Background(), f, []Step{click("#gone")}, Options{})
	if res.Success || !strings.Contains(res.FailureReason, "click failed") {
		t.Fatalf("result: got success=%v reason=%q", res.Success, res.FailureReason)
	}
}

func TestRun_UnknownAndMalformedSteps(t *testing.T) {
	cases := []struct {
		step Step
		want string
	}{
		{Step{}, "missing step type"},
		{Step{Type: "teleport"}, `unknown step type "teleport"`},
		{Step{Type: KindAssert}, "assert step requires condition"},
		{Step{Type: KindQuery, Query: "weather"}, "unknown query"},
	}
	for _, tc := range cases {
		res := newExecutor(t, nil).Run(context.Background(), shop(), []Step{tc.step}, Options{})
		if res.Success || !strings.Contains(res.FailureReason, tc.want) {
			t.Errorf("%+v: got reason %q, want %q", tc.step, res.FailureReason, tc.want)
		}
	}
}

func TestRun_StepTimeoutOverridesDefault(t *testing.T) {
	f := shop()
	sel := "#missing"
	step := AssertStep(assert.Condition{ElementExists: &sel}, 20)

	start := time.Now()
	res := New(action.New(time.Second, nil), query.New(t.TempDir(), nil), Config{AssertionTimeout: 5 * time.Second}).
		Run(context.Background(), f, []Step{step}, Options{})
	if res.Success {
		t.Fatal("want failure")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("step timeout ignored")
	}
	if !strings.Contains(res.FailureReason, "20ms") {
		t.Fatalf("FailureReason: got %q", res.FailureReason)
	}
}

func TestRun_ScreenshotQueryPersists(t *testing.T) {
	f := shop()
	step := QueryStep(query.Screenshot, json.RawMessage(`{"full_page":true}`))

	res := newExecutor(t, nil).Run(context.Background(), f, []Step{step}, Options{SessionID: "sess_a"})
	if !res.Success {
		t.Fatalf("run failed: %s", res.FailureReason)
	}
	shot, ok := stepEvents(res.Events)[0].Result.Data.(*query.ScreenshotResult)
	if !ok {
		t.Fatalf("data: got %#v", stepEvents(res.Events)[0].Result.Data)
	}
	if _, err := os.Stat(shot.Path); err != nil {
		t.Fatalf("screenshot file: %v", err)
	}
}

func TestRun_FinalStateErrorsLeaveEmpty(t *testing.T) {
	f := shop()
	f.FailWith("info", errors.New("target closed"))

	res := newExecutor(t, nil).Run(context.Background(), f, []Step{exists("#form")}, Options{})
	if !res.Success {
		t.Fatalf("run failed: %s", res.FailureReason)
	}
	if res.FinalState.URL != "" || res.FinalState.Title != "" {
		t.Fatalf("FinalState: got %+v, want empty", res.FinalState)
	}
}

func TestRun_EmptySequence(t *testing.T) {
	res := newExecutor(t, nil).Run(context.Background(), shop(), nil, Options{})
	if !res.Success || res.Completed != 0 || res.Total != 0 || res.Events == nil {
		t.Fatalf("result: got %+v", res)
	}
}

func TestRun_RunID(t *testing.T) {
	e := newExecutor(t, nil)
	a := e.Run(context.Background(), shop(), []Step{exists("#form")}, Options{})
	b := e.Run(context.Background(), shop(), []Step{exists("#form")}, Options{})
	if a.RunID == "" || a.RunID == b.RunID {
		t.Fatalf("run ids: got %q and %q, want distinct", a.RunID, b.RunID)
	}
	u, err := uuid.Parse(a.RunID)
	if err != nil || u.Version() != 7 {
		t.Fatalf("run id %q: version %v, err %v", a.RunID, u.Version(), err)
	}

	fixed := New(action.New(100*time.Millisecond, nil), query.New(t.TempDir(), nil),
		Config{NewRunID: func() string { return "run-1" }})
	if res := fixed.Run(context.Background(), shop(), nil, Options{}); res.RunID != "run-1" {
		t.Fatalf("RunID: got %q, want run-1", res.RunID)
	}
}

func TestRun_Metrics(t *testing.T) {
	m := observability.New(prometheus.NewRegistry())
	e := newExecutor(t, m)

	e.Run(context.Background(), shop(), []Step{exists("#form"), click("#submit")}, Options{Collect: allCollectors()})
	e.Run(context.Background(), shop(), []Step{exists("#missing")}, Options{})

	if got := testutil.ToFloat64(m.Sequences.WithLabelValues("success")); got != 1 {
		t.Fatalf("sequences success: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Steps.WithLabelValues("assert", "failure")); got != 1 {
		t.Fatalf("assert failures: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Events.WithLabelValues("console")); got != 1 {
		t.Fatalf("console events: got %v, want 1", got)
	}
}

func TestStep_JSON(t *testing.T) {
	raw := `[{"type":"action","action":"fill","selector":"#q","value":"hi"},
		{"type":"assert","condition":{"title_contains":"Shop"},"timeout":100},
		{"type":"query","query":"overview"}]`
	var steps []Step
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		t.Fatal(err)
	}
	if steps[0].action() != (action.Action{Type: "fill", Selector: "#q", Value: "hi"}) {
		t.Fatalf("action step: got %+v", steps[0])
	}
	if steps[1].Condition.Kind() != assert.TitleContains || steps[1].Timeout != 100 {
		t.Fatalf("assert step: got %+v", steps[1])
	}
	if steps[2].Query != query.Overview {
		t.Fatalf("query step: got %+v", steps[2])
	}
}
