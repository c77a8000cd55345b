// Package page defines the browser capability the pipeline drives, with a go-rod
// implementation and a deterministic in-memory fake.
package page

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound reports that a selector did not resolve to an element.
var ErrNotFound = errors.New("element not found")

// textPrefix marks a selector that matches on visible text instead of CSS.
const textPrefix = "text="

// Element is a located node on the current page.
type Element interface {
	Click(ctx context.Context) error
	ScrollIntoView(ctx context.Context) error
	// HTML returns the element's outer HTML.
	HTML(ctx context.Context) (string, error)
	// Attribute returns the named attribute and whether it is set.
	Attribute(ctx context.Context, name string) (string, bool, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// Page is the automation surface the navigation and parsing layers depend on.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Find resolves selector on the current view, waiting up to timeout.
	// It returns an error wrapping ErrNotFound when nothing matches.
	Find(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	// HTML returns the whole rendered document.
	HTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	// Eval runs script as a statement in the page.
	Eval(ctx context.Context, script string) error
}

// TextSelector builds a selector that matches an element by its visible label.
func TextSelector(label string) string {
	return textPrefix + label
}

// TextLabel extracts the label from a text selector.
func TextLabel(selector string) (string, bool) {
	if !strings.HasPrefix(selector, textPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(selector, textPrefix)), true
}

// WaitFor polls Find until the selector appears or the timeout elapses.
func WaitFor(ctx context.Context, p Page, selector string, timeout time.Duration) error {
	_, err := p.Find(ctx, selector, timeout)
	return err
}
