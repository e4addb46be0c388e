package tribunal

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/chromedp/cdproto/browser"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// page is the opaque "locate and act" primitive the protocol logic drives.
// Selector strategy and DOM specifics stay behind this boundary; the state
// machine and operations above it are invariant across court systems.
type page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	SendKeys(ctx context.Context, selector, text string) error
	SetFiles(ctx context.Context, selector string, paths []string) error
	SelectOption(ctx context.Context, selector, value string) error
	Text(ctx context.Context, selector string) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	BodyText(ctx context.Context) (string, error)
	ElementScreenshot(ctx context.Context, selector string) ([]byte, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// Engine owns one browser process (or one remote attachment) through
// chromedp. It is exclusively owned by its client and must be released via
// Close on every exit path.
type Engine struct {
	ctx         context.Context
	cancelCtx   context.CancelFunc
	cancelAlloc context.CancelFunc
	cdpAddr     string
}

var _ page = (*Engine)(nil)

// newEngine launches a browser, or attaches to cfg.RemoteURL when set.
func newEngine(cfg Config) (*Engine, error) {
	if cfg.RemoteURL != "" {
		allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
		ctx, cancelCtx := chromedp.NewContext(allocCtx)
		if err := chromedp.Run(ctx); err != nil {
			cancelCtx()
			cancelAlloc()
			return nil, fmt.Errorf("attaching to browser at %s: %w", cfg.RemoteURL, err)
		}
		return &Engine{ctx: ctx, cancelCtx: cancelCtx, cancelAlloc: cancelAlloc, cdpAddr: cfg.RemoteURL}, nil
	}

	port := cfg.CDPPort
	if port == 0 {
		p, err := FreePort()
		if err != nil {
			return nil, err
		}
		port = p
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("remote-debugging-port", strconv.Itoa(port)),
	)
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancelCtx := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(ctx); err != nil {
		cancelCtx()
		cancelAlloc()
		return nil, fmt.Errorf("launching browser: %w", err)
	}
	return &Engine{
		ctx:         ctx,
		cancelCtx:   cancelCtx,
		cancelAlloc: cancelAlloc,
		cdpAddr:     fmt.Sprintf("127.0.0.1:%d", port),
	}, nil
}

// FreePort reserves a loopback port for the remote-debugging endpoint.
// Callers that want the port known before launch pass it back via
// Config.CDPPort.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("allocating debugging port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// CDPAddress returns the remote-debugging endpoint of the owned browser.
func (e *Engine) CDPAddress() string {
	return e.cdpAddr
}

// Close tears down the browser context and, for launched browsers, the
// process itself. Idempotent.
func (e *Engine) Close() error {
	if e.cancelCtx != nil {
		e.cancelCtx()
		e.cancelCtx = nil
	}
	if e.cancelAlloc != nil {
		e.cancelAlloc()
		e.cancelAlloc = nil
	}
	return nil
}

// run executes chromedp actions on the engine context, bounded by the
// caller's ctx.
func (e *Engine) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(e.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (e *Engine) Navigate(ctx context.Context, url string) error {
	return e.run(ctx, chromedp.Navigate(url))
}

func (e *Engine) Click(ctx context.Context, selector string) error {
	return e.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (e *Engine) SendKeys(ctx context.Context, selector, text string) error {
	return e.run(ctx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (e *Engine) SetFiles(ctx context.Context, selector string, paths []string) error {
	return e.run(ctx, chromedp.SetUploadFiles(selector, paths, chromedp.ByQuery))
}

func (e *Engine) SelectOption(ctx context.Context, selector, value string) error {
	return e.run(ctx, chromedp.SetValue(selector, value, chromedp.ByQuery))
}

func (e *Engine) Text(ctx context.Context, selector string) (string, error) {
	var out string
	err := e.run(ctx, chromedp.Text(selector, &out, chromedp.ByQuery))
	return out, err
}

func (e *Engine) Exists(ctx context.Context, selector string) (bool, error) {
	var ok bool
	js := fmt.Sprintf("document.querySelector(%q) !== null", selector)
	err := e.run(ctx, chromedp.Evaluate(js, &ok))
	return ok, err
}

func (e *Engine) BodyText(ctx context.Context) (string, error) {
	return e.Text(ctx, "body")
}

func (e *Engine) ElementScreenshot(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	err := e.run(ctx, chromedp.Screenshot(selector, &buf, chromedp.ByQuery))
	return buf, err
}

func (e *Engine) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := e.run(ctx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func (e *Engine) setWindowState(ctx context.Context, state browser.WindowState) error {
	return e.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		id, _, err := browser.GetWindowForTarget().Do(ctx)
		if err != nil {
			return fmt.Errorf("resolving browser window: %w", err)
		}
		return browser.SetWindowBounds(id, &browser.Bounds{WindowState: state}).Do(ctx)
	}))
}

// Minimize minimizes the browser window.
func (e *Engine) Minimize(ctx context.Context) error {
	return e.setWindowState(ctx, browser.WindowStateMinimized)
}

// Restore returns the window to its normal state.
func (e *Engine) Restore(ctx context.Context) error {
	return e.setWindowState(ctx, browser.WindowStateNormal)
}

// Focus brings the automated page to the front.
func (e *Engine) Focus(ctx context.Context) error {
	return e.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return cdppage.BringToFront().Do(ctx)
	}))
}
