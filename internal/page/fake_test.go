package page

import (
	"context"
	"errors"
	"testing"
)

func TestFake_ClickSwitchesView(t *testing.T) {
	fake := NewFake(map[string]View{
		"top":  {HTML: "<p>top</p>", Links: map[string]string{"#go": "next"}},
		"next": {HTML: "<p>next</p>", Image: []byte{0x89, 'P', 'N', 'G'}},
	}, "")
	fake.Route("https://example.test/", "top")

	ctx := context.Background()
	if err := fake.Navigate(ctx, "https://example.test/"); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	el, err := fake.Find(ctx, "#go", 0)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if err := el.Click(ctx); err != nil {
		t.Fatalf("Click: %v", err)
	}
	if fake.Current() != "next" {
		t.Fatalf("expected next view, got %q", fake.Current())
	}
	html, _ := fake.HTML(ctx)
	if html != "<p>next</p>" {
		t.Fatalf("unexpected html %q", html)
	}
	if err := el.Click(ctx); err == nil {
		t.Fatalf("expected stale element error")
	}
	if got := fake.Clicks(); len(got) != 1 || got[0] != "#go" {
		t.Fatalf("unexpected clicks %v", got)
	}
}

func TestFake_FindMissing(t *testing.T) {
	fake := NewFake(map[string]View{"top": {}}, "top")

	_, err := fake.Find(context.Background(), "#missing", 0)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := fake.Navigate(context.Background(), "https://unrouted.test/"); err == nil {
		t.Fatalf("expected unrouted navigation to fail")
	}
}

func TestTextSelector(t *testing.T) {
	selector := TextSelector("次の月")
	label, ok := TextLabel(selector)
	if !ok || label != "次の月" {
		t.Fatalf("TextLabel(%q) = %q, %v", selector, label, ok)
	}
	if _, ok := TextLabel("a.next"); ok {
		t.Fatalf("css selector must not be a text selector")
	}
}
