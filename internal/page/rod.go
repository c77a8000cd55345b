package page

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog"
)

const (
	defaultNavigateTimeout = 60 * time.Second
	// textCandidates lists the elements a visible-text selector may resolve to,
	// links and buttons first.
	textCandidates = "a, button, input[type='button'], input[type='submit'], label, span, td, th, li, div"
)

// BrowserConfig configures the Chrome session behind a RodPage.
type BrowserConfig struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome. Empty launches one locally.
	RemoteURL string
	Headless  bool
	// BlockResources drops font and media requests.
	BlockResources bool
	Logger         zerolog.Logger
}

// Browser owns a Chrome process (or remote connection) and its single tab.
type Browser struct {
	browser *rod.Browser
	lnch    *launcher.Launcher
	page    *RodPage
}

// Launch starts or connects to Chrome and opens a stealth tab.
func Launch(ctx context.Context, cfg BrowserConfig) (*Browser, error) {
	wsURL := cfg.RemoteURL
	var lnch *launcher.Launcher
	if wsURL == "" {
		lnch = launcher.New().Context(ctx).Headless(cfg.Headless)
		lnch = lnch.Set("disable-blink-features", "AutomationControlled")
		u, err := lnch.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		wsURL = u
		cfg.Logger.Info().Str("url", wsURL).Bool("headless", cfg.Headless).Msg("launched local chrome")
	} else {
		cfg.Logger.Info().Str("url", wsURL).Msg("connecting to remote chrome")
	}

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		if lnch != nil {
			lnch.Cleanup()
		}
		return nil, fmt.Errorf("connect chrome: %w", err)
	}

	p, err := stealth.Page(b)
	if err != nil {
		_ = b.Close()
		if lnch != nil {
			lnch.Cleanup()
		}
		return nil, fmt.Errorf("open tab: %w", err)
	}

	if cfg.BlockResources {
		blockResources(p, cfg.Logger)
	}

	return &Browser{
		browser: b,
		lnch:    lnch,
		page:    &RodPage{page: p, logger: cfg.Logger},
	}, nil
}

// Page returns the browser's tab.
func (b *Browser) Page() *RodPage {
	return b.page
}

// Close shuts the browser down.
func (b *Browser) Close() error {
	var err error
	if b.browser != nil {
		err = b.browser.Close()
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
	}
	return err
}

func blockResources(p *rod.Page, logger zerolog.Logger) {
	router := p.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		switch h.Request.Type() {
		case proto.NetworkResourceTypeFont, proto.NetworkResourceTypeMedia:
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	logger.Debug().Msg("font and media requests blocked")
}

// RodPage implements Page on a go-rod tab.
type RodPage struct {
	page   *rod.Page
	logger zerolog.Logger
}

// Navigate implements Page.
func (p *RodPage) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, defaultNavigateTimeout)
	defer cancel()

	pg := p.page.Context(navCtx)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil {
		p.logger.Warn().Err(err).Str("url", url).Msg("wait load timeout")
	}
	return nil
}

// Find implements Page.
func (p *RodPage) Find(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	findCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pg := p.page.Context(findCtx)
	var (
		el  *rod.Element
		err error
	)
	if label, ok := TextLabel(selector); ok {
		el, err = pg.ElementR(textCandidates, "^\\s*"+regexp.QuoteMeta(label)+"\\s*$")
	} else {
		el, err = pg.Element(selector)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, selector, err)
	}
	return &rodElement{el: el}, nil
}

// HTML implements Page.
func (p *RodPage) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}

// Screenshot implements Page.
func (p *RodPage) Screenshot(ctx context.Context) ([]byte, error) {
	img, err := p.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("capture page: %w", err)
	}
	return img, nil
}

// Eval implements Page.
func (p *RodPage) Eval(ctx context.Context, script string) error {
	if _, err := p.page.Context(ctx).Eval("() => { " + script + " }"); err != nil {
		return fmt.Errorf("eval script: %w", err)
	}
	return nil
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Click(ctx context.Context) error {
	if err := e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

func (e *rodElement) ScrollIntoView(ctx context.Context) error {
	if err := e.el.Context(ctx).ScrollIntoView(); err != nil {
		return fmt.Errorf("scroll into view: %w", err)
	}
	return nil
}

func (e *rodElement) HTML(ctx context.Context) (string, error) {
	html, err := e.el.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("read element html: %w", err)
	}
	return html, nil
}

func (e *rodElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	value, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, fmt.Errorf("read attribute %s: %w", name, err)
	}
	if value == nil {
		return "", false, nil
	}
	return *value, true, nil
}

func (e *rodElement) Screenshot(ctx context.Context) ([]byte, error) {
	img, err := e.el.Context(ctx).Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("capture element: %w", err)
	}
	return img, nil
}

// IsNotFound reports whether err means a selector did not resolve.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

var _ Page = (*RodPage)(nil)
var _ Page = (*Fake)(nil)

// Describe renders a selector for logs.
func Describe(selector string) string {
	if label, ok := TextLabel(selector); ok {
		return fmt.Sprintf("text %q", label)
	}
	return strings.TrimSpace(selector)
}
