package collect

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/goleak"

	"github.com/hazyhaar/domdrive/internal/page/pagetest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func start(t *testing.T, f *pagetest.Fake, opts Options) *Set {
	t.Helper()
	s := Start(context.Background(), f, opts, 0, nil)
	t.Cleanup(s.Stop)
	return s
}

// ignoreTiming drops the fields that depend on the clock.
var ignoreTiming = cmpopts.IgnoreFields(Event{}, "Timing", "Timestamp")

func TestLog_MonotoneTimestamps(t *testing.T) {
	clock := []int64{1000, 1005, 990, 990, 1010}
	i := 0
	l := NewLog()
	l.now = func() time.Time {
		ms := clock[i]
		i++
		return time.UnixMilli(ms)
	}
	for range clock {
		l.Append(Event{Type: TypeConsole})
	}

	var got []int64
	for _, e := range l.Events() {
		got = append(got, e.Timestamp)
	}
	want := []int64{1000, 1005, 1005, 1005, 1010}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("timestamps (-want +got):\n%s", diff)
	}
}

func TestLog_EventsNeverNil(t *testing.T) {
	if NewLog().Events() == nil {
		t.Fatal("Events: got nil, want empty slice")
	}
}

func TestConsoleLevel(t *testing.T) {
	cases := map[string]string{
		"log":     "log",
		"debug":   "debug",
		"info":    "info",
		"warning": "warn",
		"warn":    "warn",
		"error":   "error",
		"table":   "log",
		"":        "log",
	}
	for in, want := range cases {
		if got := ConsoleLevel(in); got != want {
			t.Errorf("ConsoleLevel(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestConsole_LevelFilter(t *testing.T) {
	f := pagetest.New("https://example.com/", "")
	s := start(t, f, Options{Console: ConsoleOptions{Enabled: true, Level: "error"}})

	f.EmitConsole("log", "hello")
	f.EmitConsole("info", "fyi")
	f.EmitConsole("debug", "trace")
	f.EmitConsole("warning", "careful")
	f.EmitConsole("error", "boom")

	want := []Event{{Type: TypeConsole, Level: "error", Message: "boom"}}
	if diff := cmp.Diff(want, s.Drain(), ignoreTiming); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
}

func TestConsole_WarnIncludesError(t *testing.T) {
	f := pagetest.New("https://example.com/", "")
	s := start(t, f, Options{Console: ConsoleOptions{Enabled: true, Level: "warn"}})

	f.EmitConsole("log", "hello")
	f.EmitConsole("warning", "careful")
	f.EmitConsole("error", "boom")

	want := []Event{
		{Type: TypeConsole, Level: "warn", Message: "careful"},
		{Type: TypeConsole, Level: "error", Message: "boom"},
	}
	if diff := cmp.Diff(want, s.Drain(), ignoreTiming); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
}

func TestConsole_RegexFilter(t *testing.T) {
	f := pagetest.New("https://example.com/", "")
	s := start(t, f, Options{Console: ConsoleOptions{Enabled: true, Filter: `^cart:`}})

	f.EmitConsole("log", "cart: added")
	f.EmitConsole("log", "analytics ping")

	got := s.Drain()
	if len(got) != 1 || got[0].Message != "cart: added" {
		t.Fatalf("events: got %+v", got)
	}
}

func TestConsole_InvalidRegexAcceptsAll(t *testing.T) {
	f := pagetest.New("https://example.com/", "")
	s := start(t, f, Options{Console: ConsoleOptions{Enabled: true, Filter: `([`}})

	f.EmitConsole("log", "one")
	f.EmitConsole("error", "two")

	if got := len(s.Drain()); got != 2 {
		t.Fatalf("events: got %d, want 2", got)
	}
}

func TestNetwork_URLFilter(t *testing.T) {
	f := pagetest.New("https://example.com/", "")
	s := start(t, f, Options{Network: NetworkOptions{Enabled: true, Filter: "api/"}})

	f.Fetch("GET", "https://example.com/static/app.js", 200)
	f.Fetch("GET", "https://example.com/api/search", 200)

	want := []Event{{Type: TypeNetwork, Method: "GET", URL: "https://example.com/api/search", Status: 200}}
	if diff := cmp.Diff(want, s.Drain(), ignoreTiming); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
}

func TestNetwork_CorrelationAndTiming(t *testing.T) {
	f := pagetest.New("https://example.com/", "")
	s := start(t, f, Options{Network: NetworkOptions{Enabled: true}})

	slow := f.StartRequest("POST", "https://example.com/api/slow")
	fast := f.StartRequest("GET", "https://example.com/api/fast")
	fast.Respond(204)
	time.Sleep(5 * time.Millisecond)
	slow.Fail("net::ERR_CONNECTION_RESET")

	got := s.Drain()
	want := []Event{
		{Type: TypeNetwork, Method: "GET", URL: "https://example.com/api/fast", Status: 204},
		{Type: TypeNetwork, Method: "POST", URL: "https://example.com/api/slow", Error: "net::ERR_CONNECTION_RESET"},
	}
	if diff := cmp.Diff(want, got, ignoreTiming); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	if got[1].Timing == nil || *got[1].Timing < 5 {
		t.Fatalf("timing of slow request: got %v, want >= 5ms", got[1].Timing)
	}
}

func TestNetwork_RedirectHops(t *testing.T) {
	f := pagetest.New("https://example.com/", "")
	s := start(t, f, Options{Network: NetworkOptions{Enabled: true}})

	r := f.StartRequest("GET", "http://example.com/login")
	r.Redirect(302, "https://example.com/login")
	r.Respond(200)

	want := []Event{
		{Type: TypeNetwork, Method: "GET", URL: "http://example.com/login", Status: 302},
		{Type: TypeNetwork, Method: "GET", URL: "https://example.com/login", Status: 200},
	}
	if diff := cmp.Diff(want, s.Drain(), ignoreTiming); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	if n := s.network.unresolved(); n != 0 {
		t.Fatalf("pending after redirect chain: got %d, want 0", n)
	}
}

func TestNetwork_PendingRequestsDropped(t *testing.T) {
	f := pagetest.New("https://example.com/", "")
	s := start(t, f, Options{Network: NetworkOptions{Enabled: true}})

	f.StartRequest("GET", "https://example.com/api/never")
	if n := s.network.unresolved(); n != 1 {
		t.Fatalf("pending: got %d, want 1", n)
	}
	s.Stop()
	if got := s.Drain(); len(got) != 0 {
		t.Fatalf("events: got %+v, want none", got)
	}
}

func TestNavigation_TopLevelChangesOnly(t *testing.T) {
	f := pagetest.New("https://example.com/", "")
	s := start(t, f, Options{Navigation: NavigationOptions{Enabled: true}})

	f.EmitNavigation("https://example.com/", true)
	f.EmitNavigation("https://ads.example.net/frame", false)
	f.EmitNavigation("https://example.com/a", true)
	f.EmitNavigation("https://example.com/a", true)
	f.EmitNavigation("https://example.com/b", true)

	want := []Event{
		{Type: TypeNavigation, From: "https://example.com/", To: "https://example.com/a"},
		{Type: TypeNavigation, From: "https://example.com/a", To: "https://example.com/b"},
	}
	if diff := cmp.Diff(want, s.Drain(), ignoreTiming); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
}

func TestSet_DisabledCollectorsAttachNothing(t *testing.T) {
	f := pagetest.New("https://example.com/", "")
	s := start(t, f, Options{})

	if n := f.Listeners(); n != 0 {
		t.Fatalf("listeners: got %d, want 0", n)
	}
	f.EmitConsole("error", "boom")
	f.Fetch("GET", "https://example.com/api", 200)
	f.EmitNavigation("https://example.com/x", true)
	if got := s.Drain(); len(got) != 0 {
		t.Fatalf("events: got %+v, want none", got)
	}
}

func TestSet_OneListenerPerCollector(t *testing.T) {
	f := pagetest.New("https://example.com/", "")
	s := start(t, f, Options{
		Console:    ConsoleOptions{Enabled: true},
		Network:    NetworkOptions{Enabled: true},
		Navigation: NavigationOptions{Enabled: true},
	})
	if n := f.Listeners(); n != 3 {
		t.Fatalf("listeners: got %d, want 3", n)
	}
	want := []string{"navigation", "console", "network"}
	if diff := cmp.Diff(want, s.Collectors()); diff != "" {
		t.Fatalf("collectors (-want +got):\n%s", diff)
	}
}

func TestSet_StopDetachesAndIsIdempotent(t *testing.T) {
	f := pagetest.New("https://example.com/", "")
	s := Start(context.Background(), f, Options{
		Console:    ConsoleOptions{Enabled: true},
		Network:    NetworkOptions{Enabled: true},
		Navigation: NavigationOptions{Enabled: true},
	}, 0, nil)

	s.Stop()
	s.Stop()

	if n := f.Listeners(); n != 0 {
		t.Fatalf("listeners after Stop: got %d, want 0", n)
	}
	f.EmitConsole("error", "late")
	f.Fetch("GET", "https://example.com/api", 200)
	f.EmitNavigation("https://example.com/late", true)
	if got := s.Drain(); len(got) != 0 {
		t.Fatalf("events after Stop: got %+v, want none", got)
	}
}

func TestSet_StopUnblocksFullBuffer(t *testing.T) {
	f := pagetest.New("https://example.com/", "")
	s := Start(context.Background(), f, Options{Console: ConsoleOptions{Enabled: true}}, 1, nil)

	f.EmitConsole("log", "fills the buffer")
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.EmitConsole("log", "blocks until stop")
	}()

	time.Sleep(10 * time.Millisecond)
	s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked emitter not released by Stop")
	}
}
