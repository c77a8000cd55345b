package navigation

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/nholik/slot-sentinel/internal/page"
	"github.com/rs/zerolog"
)

func testOptions() Options {
	return Options{
		StepTimeout:    10 * time.Millisecond,
		VerifyTimeout:  30 * time.Millisecond,
		PollInterval:   time.Millisecond,
		DismissTimeout: time.Millisecond,
		Logger:         zerolog.Nop(),
	}
}

func TestRun_FallbackReachesVerified(t *testing.T) {
	fake := page.NewFake(map[string]page.View{
		"top":  {HTML: "<p>top</p>", Links: map[string]string{"text=施設の空き状況": "menu"}},
		"menu": {HTML: "<p>menu</p>", Links: map[string]string{"#menu-ready": ""}},
	}, "top")
	engine := New(fake, testOptions())

	steps := []Step{{
		Selector:  "#availability",
		Fallbacks: []string{"text=施設の空き状況"},
		Verify:    "#menu-ready",
	}}
	result, err := engine.Run(context.Background(), "minami", steps)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.State != Arrived {
		t.Fatalf("expected Arrived, got %s", result.State)
	}
	if len(result.Used) != 1 || result.Used[0] != "text=施設の空き状況" {
		t.Fatalf("expected fallback to be used, got %v", result.Used)
	}

	var verified bool
	for _, tr := range result.Trace {
		if tr.State == Verified && tr.Step == 0 {
			verified = true
		}
	}
	if !verified {
		t.Fatalf("expected Verified(0) in trace, got %+v", result.Trace)
	}
	if fake.Current() != "menu" {
		t.Fatalf("expected to land on menu, got %s", fake.Current())
	}
}

func TestRun_TraceOrder(t *testing.T) {
	fake := page.NewFake(map[string]page.View{
		"a": {Links: map[string]string{"#one": "b"}},
		"b": {Links: map[string]string{"#two": "c"}},
		"c": {},
	}, "a")
	engine := New(fake, testOptions())

	result, err := engine.Run(context.Background(), "f", []Step{{Selector: "#one"}, {Selector: "#two"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []State{Idle, Advancing, Verified, Advancing, Verified, Arrived}
	if len(result.Trace) != len(want) {
		t.Fatalf("unexpected trace %+v", result.Trace)
	}
	for i, state := range want {
		if result.Trace[i].State != state {
			t.Fatalf("trace[%d] = %s, want %s", i, result.Trace[i].State, state)
		}
	}
}

func TestRun_SelectorNotFound(t *testing.T) {
	fake := page.NewFake(map[string]page.View{
		"a": {Links: map[string]string{"#one": "b"}},
		"b": {},
	}, "a")
	engine := New(fake, testOptions())

	result, err := engine.Run(context.Background(), "minami", []Step{{Selector: "#one"}, {Selector: "#gone", Fallbacks: []string{"#also-gone"}}})
	if !errors.Is(err, ErrSelectorNotFound) {
		t.Fatalf("expected ErrSelectorNotFound, got %v", err)
	}
	var navErr *Error
	if !errors.As(err, &navErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if navErr.Step != 1 || navErr.Facility != "minami" || navErr.Selector != "#gone" {
		t.Fatalf("unexpected error detail %+v", navErr)
	}
	if !errors.Is(err, page.ErrNotFound) {
		t.Fatalf("expected underlying not-found error, got %v", err)
	}
	if result.State != Failed {
		t.Fatalf("expected Failed, got %s", result.State)
	}
	if KindOf(err) != KindSelectorNotFound {
		t.Fatalf("expected KindSelectorNotFound, got %s", KindOf(err))
	}
}

func TestRun_VerificationTimeout(t *testing.T) {
	fake := page.NewFake(map[string]page.View{
		"a": {Links: map[string]string{"#one": "b"}},
		"b": {},
	}, "a")
	engine := New(fake, testOptions())

	result, err := engine.Run(context.Background(), "minami", []Step{{Selector: "#one", Verify: "#never"}})
	if !errors.Is(err, ErrVerificationTimeout) {
		t.Fatalf("expected ErrVerificationTimeout, got %v", err)
	}
	if errors.Is(err, ErrSelectorNotFound) {
		t.Fatalf("verification failure must not match selector-not-found")
	}
	if result.State != Failed {
		t.Fatalf("expected Failed, got %s", result.State)
	}
}

func TestRun_ClickErrorTriesNextCandidate(t *testing.T) {
	fake := page.NewFake(map[string]page.View{
		"a": {Links: map[string]string{"#broken": "b", "#ok": "b"}},
		"b": {},
	}, "a")
	fake.ClickErr["#broken"] = errors.New("detached")
	engine := New(fake, testOptions())

	result, err := engine.Run(context.Background(), "f", []Step{{Selector: "#broken", Fallbacks: []string{"#ok"}}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Used[0] != "#ok" {
		t.Fatalf("expected #ok, got %v", result.Used)
	}
}

func TestRun_PreActions(t *testing.T) {
	fake := page.NewFake(map[string]page.View{
		"a": {Links: map[string]string{"#ready": "", "#go": "b"}},
		"b": {},
	}, "a")
	engine := New(fake, testOptions())

	steps := []Step{{
		Selector: "#go",
		PreActions: []Action{
			{Type: ActionWait, Selector: "#ready"},
			{Type: ActionSleep, Duration: time.Millisecond},
			{Type: ActionScroll},
		},
	}}
	if _, err := engine.Run(context.Background(), "f", steps); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if scrolls := fake.Scrolls(); len(scrolls) != 1 || scrolls[0] != "#go" {
		t.Fatalf("expected scroll before click, got %v", scrolls)
	}

	fake = page.NewFake(map[string]page.View{"a": {Links: map[string]string{"#go": ""}}}, "a")
	engine = New(fake, testOptions())
	steps[0].PreActions = []Action{{Type: ActionWait, Selector: "#spinner-gone"}}
	if _, err := engine.Run(context.Background(), "f", steps); !errors.Is(err, ErrSelectorNotFound) {
		t.Fatalf("expected failed wait to report selector not found, got %v", err)
	}
	if len(fake.Clicks()) != 0 {
		t.Fatalf("expected no click after failed wait")
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	fake := page.NewFake(map[string]page.View{"a": {Links: map[string]string{"#go": ""}}}, "a")
	engine := New(fake, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Run(ctx, "f", []Step{{Selector: "#go"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNextMonth(t *testing.T) {
	views := map[string]page.View{
		"jan": {HTML: "<table class='cal'>2026年1月</table>", Links: map[string]string{"table.cal": "", "text=次の月": "feb"}},
		"feb": {HTML: "<table class='cal'>2026年2月</table>", Links: map[string]string{"table.cal": ""}},
	}
	fake := page.NewFake(views, "jan")
	engine := New(fake, testOptions())

	used, err := engine.NextMonth(context.Background(), "minami", []string{"#facility-next", "text=次の月"}, "table.cal")
	if err != nil {
		t.Fatalf("NextMonth: %v", err)
	}
	if used != "text=次の月" {
		t.Fatalf("expected second candidate, got %s", used)
	}
	if fake.Current() != "feb" {
		t.Fatalf("expected feb view, got %s", fake.Current())
	}
}

func TestNextMonth_UnchangedCalendar(t *testing.T) {
	fake := page.NewFake(map[string]page.View{
		"jan": {HTML: "<table class='cal'>2026年1月</table>", Links: map[string]string{"table.cal": "", "a.next": ""}},
	}, "jan")
	engine := New(fake, testOptions())

	_, err := engine.NextMonth(context.Background(), "minami", []string{"a.next"}, "table.cal")
	if !errors.Is(err, ErrVerificationTimeout) {
		t.Fatalf("expected ErrVerificationTimeout, got %v", err)
	}
}

func TestNextMonth_NoCandidate(t *testing.T) {
	fake := page.NewFake(map[string]page.View{"jan": {Links: map[string]string{"table.cal": ""}}}, "jan")
	engine := New(fake, testOptions())

	_, err := engine.NextMonth(context.Background(), "minami", []string{"a.next", "text=次"}, "table.cal")
	if !errors.Is(err, ErrSelectorNotFound) {
		t.Fatalf("expected ErrSelectorNotFound, got %v", err)
	}
	// text selectors are never looked up for a link script
	want := []string{"table.cal", "a.next", "text=次", "a.next"}
	if got := fake.Finds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected lookups %v, want %v", got, want)
	}
}

func TestNextMonth_EvaluatesLinkScript(t *testing.T) {
	const link = "a[href*='moveCalender']"
	fake := page.NewFake(map[string]page.View{
		"jan": {
			HTML:    "<table class='cal'>2026年1月</table>",
			Links:   map[string]string{"table.cal": "", link: ""},
			Attrs:   map[string]map[string]string{link: {"href": "javascript:moveCalender(2026,%202)"}},
			Scripts: map[string]string{"moveCalender(2026, 2)": "feb"},
		},
		"feb": {HTML: "<table class='cal'>2026年2月</table>", Links: map[string]string{"table.cal": ""}},
	}, "jan")
	engine := New(fake, testOptions())

	used, err := engine.NextMonth(context.Background(), "minami", []string{"text=次の月", link}, "table.cal")
	if err != nil {
		t.Fatalf("NextMonth: %v", err)
	}
	if used != link || fake.Current() != "feb" {
		t.Fatalf("expected the link script to reach feb, used %s on %s", used, fake.Current())
	}
	if evals := fake.Evals(); len(evals) != 1 || evals[0] != "moveCalender(2026, 2)" {
		t.Fatalf("unexpected scripts %v", evals)
	}
}

func TestNextMonth_SameMonthRerenderIsNotAdvance(t *testing.T) {
	fake := page.NewFake(map[string]page.View{
		"jan":      {HTML: "<table class='cal'>2026年1月</table>", Links: map[string]string{"table.cal": "", "a.next": "reloaded"}},
		"reloaded": {HTML: "<table class='cal'><b>2026年1月</b></table>", Links: map[string]string{"table.cal": ""}},
	}, "jan")
	engine := New(fake, testOptions())

	_, err := engine.NextMonth(context.Background(), "minami", []string{"a.next"}, "table.cal")
	if !errors.Is(err, ErrVerificationTimeout) {
		t.Fatalf("expected ErrVerificationTimeout, got %v", err)
	}
}

func TestNextMonth_WithoutCalendarBeforeClick(t *testing.T) {
	tests := []struct {
		name    string
		before  string
		after   string
		wantErr bool
	}{
		{name: "heading names following month", before: "<p>2026年12月</p>", after: "<table class='cal'>2027年1月</table>"},
		{name: "heading names another month", before: "<p>2026年12月</p>", after: "<table class='cal'>2026年11月</table>", wantErr: true},
		{name: "no heading", before: "<p>loading</p>", after: "<table class='cal'>2027年1月</table>", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := page.NewFake(map[string]page.View{
				"before": {HTML: tt.before, Links: map[string]string{"a.next": "after"}},
				"after":  {HTML: tt.after, Links: map[string]string{"table.cal": ""}},
			}, "before")
			engine := New(fake, testOptions())

			_, err := engine.NextMonth(context.Background(), "minami", []string{"a.next"}, "table.cal")
			if tt.wantErr && !errors.Is(err, ErrVerificationTimeout) {
				t.Fatalf("expected ErrVerificationTimeout, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("NextMonth: %v", err)
			}
		})
	}
}

func TestHrefScript(t *testing.T) {
	tests := []struct {
		href string
		want string
		ok   bool
	}{
		{"javascript:moveCalender(2026,2)", "moveCalender(2026,2)", true},
		{" JavaScript: go(%27next%27); ", "go('next');", true},
		{"javascript:", "", false},
		{"/calendar?month=2", "", false},
	}
	for _, tt := range tests {
		got, ok := hrefScript(tt.href)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("hrefScript(%q) = %q, %v; want %q, %v", tt.href, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDismiss(t *testing.T) {
	fake := page.NewFake(map[string]page.View{
		"top": {Links: map[string]string{"text=同意する": "", "text=閉じる": ""}},
	}, "top")
	engine := New(fake, testOptions())

	clicked := engine.Dismiss(context.Background(), []string{"text=同意する", "text=OK", "text=閉じる"})
	if len(clicked) != 2 || clicked[0] != "text=同意する" || clicked[1] != "text=閉じる" {
		t.Fatalf("unexpected dismissed dialogs %v", clicked)
	}
}

func TestWaitCalendar(t *testing.T) {
	fake := page.NewFake(map[string]page.View{"a": {Links: map[string]string{"table.cal": ""}}}, "a")
	engine := New(fake, testOptions())

	if err := engine.WaitCalendar(context.Background(), "f", "table.cal"); err != nil {
		t.Fatalf("expected calendar present, got %v", err)
	}
	if err := engine.WaitCalendar(context.Background(), "f", "table.other"); !errors.Is(err, ErrVerificationTimeout) {
		t.Fatalf("expected ErrVerificationTimeout, got %v", err)
	}
}
