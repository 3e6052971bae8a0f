package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// stabilityFlags are applied to every launch. They are policy, not
// per-call options: long crawls against flaky pages need GPU,
// sandboxing, and background networking out of the picture.
func stabilityFlags() []chromedp.ExecAllocatorOption {
	return append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
}

// ExecLauncher launches headless Chrome processes via chromedp's exec
// allocator.
type ExecLauncher struct{}

// NewExecLauncher constructs the production launcher.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

// Launch starts a browser process eagerly so launch failures surface
// here rather than on the first navigation.
func (l *ExecLauncher) Launch(ctx context.Context) (Instance, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), stabilityFlags()...)

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	return &chromeInstance{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

type chromeInstance struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

func (i *chromeInstance) NewTab(ctx context.Context, profile Profile) (Tab, error) {
	profile = profile.withDefaults()

	tabCtx, tabCancel := chromedp.NewContext(i.browserCtx)
	err := chromedp.Run(tabCtx,
		emulation.SetUserAgentOverride(profile.UserAgent),
		chromedp.EmulateViewport(int64(profile.Width), int64(profile.Height)),
	)
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("configure tab: %w", err)
	}
	return &chromeTab{ctx: tabCtx, cancel: tabCancel}, nil
}

func (i *chromeInstance) Close() error {
	i.browserCancel()
	i.allocCancel()
	return nil
}

type chromeTab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (t *chromeTab) Context() context.Context { return t.ctx }

func (t *chromeTab) Closed() bool { return t.ctx.Err() != nil }

func (t *chromeTab) Close() error {
	t.cancel()
	return nil
}
