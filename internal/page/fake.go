package page

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// View is one rendered state of a fake site.
type View struct {
	HTML  string
	Image []byte
	// Links maps a selector present on this view to the view a click leads to.
	// An empty target keeps the current view.
	Links map[string]string
	// Attrs maps a selector to the attributes of the element it matches.
	Attrs map[string]map[string]string
	// Scripts maps a script Eval accepts on this view to the view it leads to.
	Scripts map[string]string
}

// Fake is a deterministic Page backed by a set of named views. Clicking a link
// switches the current view; nothing ever waits.
type Fake struct {
	mu       sync.Mutex
	views    map[string]View
	urls     map[string]string
	current  string
	clicks   []string
	scrolls  []string
	finds    []string
	navigate []string
	evals    []string
	// ClickErr, when set for a selector, is returned from Click.
	ClickErr map[string]error
}

// NewFake returns a fake positioned on start.
func NewFake(views map[string]View, start string) *Fake {
	return &Fake{
		views:    views,
		urls:     map[string]string{},
		current:  start,
		ClickErr: map[string]error{},
	}
}

// Route makes Navigate(url) land on the named view.
func (f *Fake) Route(url, view string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls[url] = view
}

// Current returns the name of the active view.
func (f *Fake) Current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Clicks returns every selector clicked so far, in order.
func (f *Fake) Clicks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.clicks...)
}

// Scrolls returns every selector scrolled into view so far.
func (f *Fake) Scrolls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scrolls...)
}

// Navigations returns every URL navigated to so far.
func (f *Fake) Navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigate...)
}

// Finds returns every selector looked up so far, found or not.
func (f *Fake) Finds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.finds...)
}

// Evals returns every script evaluated so far.
func (f *Fake) Evals() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.evals...)
}

// Navigate implements Page.
func (f *Fake) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	view, ok := f.urls[url]
	if !ok {
		return fmt.Errorf("fake: no route for %s", url)
	}
	f.current = view
	f.navigate = append(f.navigate, url)
	return nil
}

// Find implements Page. The timeout is ignored.
func (f *Fake) Find(ctx context.Context, selector string, _ time.Duration) (Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds = append(f.finds, selector)
	view := f.views[f.current]
	if _, ok := view.Links[selector]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return &fakeElement{fake: f, view: f.current, selector: selector}, nil
}

// HTML implements Page.
func (f *Fake) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.views[f.current].HTML, nil
}

// Screenshot implements Page.
func (f *Fake) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.views[f.current].Image...), nil
}

// Eval implements Page. Scripts the current view does not list fail.
func (f *Fake) Eval(ctx context.Context, script string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	target, ok := f.views[f.current].Scripts[script]
	if !ok {
		return fmt.Errorf("fake: script not defined on %s: %s", f.current, script)
	}
	f.evals = append(f.evals, script)
	if target != "" {
		f.current = target
	}
	return nil
}

type fakeElement struct {
	fake     *Fake
	view     string
	selector string
}

func (e *fakeElement) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f := e.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ClickErr[e.selector]; err != nil {
		return err
	}
	if f.current != e.view {
		return fmt.Errorf("fake: stale element %s", e.selector)
	}
	f.clicks = append(f.clicks, e.selector)
	if target := f.views[e.view].Links[e.selector]; target != "" {
		f.current = target
	}
	return nil
}

func (e *fakeElement) ScrollIntoView(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.fake.mu.Lock()
	defer e.fake.mu.Unlock()
	e.fake.scrolls = append(e.fake.scrolls, e.selector)
	return nil
}

func (e *fakeElement) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.fake.mu.Lock()
	defer e.fake.mu.Unlock()
	return e.fake.views[e.view].HTML, nil
}

func (e *fakeElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	e.fake.mu.Lock()
	defer e.fake.mu.Unlock()
	value, ok := e.fake.views[e.view].Attrs[e.selector][name]
	return value, ok, nil
}

func (e *fakeElement) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.fake.mu.Lock()
	defer e.fake.mu.Unlock()
	return append([]byte(nil), e.fake.views[e.view].Image...), nil
}
