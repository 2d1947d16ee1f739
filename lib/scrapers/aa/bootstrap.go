package aa

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// trust marker inside the bot-manager sensor cookie; a sensor that has
// finished fingerprinting flips its counter to -1
const trustedSensorMarker = "~-1~"

const sensorCookieName = "_abck"

// representative booking query; the booking search page sets strictly
// more cookies than the homepage (spa_session_id, dtPC) and the API
// validates those
const defaultSearchUrl = defaultBaseUrl + "/booking/search?locale=en_US&fareType=Lowest&pax=1&adult=1&type=OneWay&searchType=Revenue&cabin=&carriers=ALL&travelType=personal&slices=%5B%7B%22orig%22:%22LAX%22,%22origNearby%22:false,%22dest%22:%22JFK%22,%22destNearby%22:false,%22date%22:%222025-12-15%22%7D%5D"

// Bootstrapper produces a trusted anti-bot cookie set by driving a
// real headless browser through a booking search page. It never
// persists anything; caching is the lifecycle manager's job.
type Bootstrapper struct {
	// defaults to the aa.com booking search page
	SearchUrl string
	Headless  bool

	// sensor-trust polling knobs; zero values get 500ms / 15s
	TrustPollInterval time.Duration
	TrustWaitBudget   time.Duration

	// overridable for tests, defaults to a real context-aware sleep
	Sleep func(ctx context.Context, d time.Duration) error
}

func (b Bootstrapper) searchUrl() string {
	if b.SearchUrl != "" {
		return b.SearchUrl
	}
	return defaultSearchUrl
}

func (b Bootstrapper) pollInterval() time.Duration {
	if b.TrustPollInterval > 0 {
		return b.TrustPollInterval
	}
	return time.Millisecond * 500
}

func (b Bootstrapper) waitBudget() time.Duration {
	if b.TrustWaitBudget > 0 {
		return b.TrustWaitBudget
	}
	return time.Second * 15
}

func (b Bootstrapper) sleep(ctx context.Context, d time.Duration) error {
	if b.Sleep != nil {
		return b.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Bootstrap launches an isolated browser context, lets the bot-manager
// sensor finish fingerprinting, performs a short synthetic interaction
// sequence and returns every cookie the page set. Browser and
// navigation errors propagate untouched; retrying is the caller's
// decision.
func (b Bootstrapper) Bootstrap(ctx context.Context) (map[string]string, error) {
	slog.InfoContext(ctx, "launching browser for cookie bootstrap", "headless", b.Headless)
	start := time.Now()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.Headless),
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.UserAgent(userAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	err := chromedp.Run(browserCtx,
		chromedp.Navigate(b.searchUrl()),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return nil, err
	}

	trusted := b.waitForSensorTrust(ctx, func(ctx context.Context) (string, error) {
		cookies, err := readCookies(browserCtx)
		if err != nil {
			return "", err
		}
		return cookies[sensorCookieName], nil
	})
	if !trusted {
		// an untrusted token still has a chance of being accepted
		// downstream, so this is not a bootstrap failure
		slog.WarnContext(ctx, "sensor cookie never reached trusted state, proceeding anyway")
	}

	// synthetic pointer movement and a scroll nudge the behavioral
	// score in the right direction before we freeze the cookie set
	err = chromedp.Run(browserCtx,
		mouseMove(100, 100),
		chromedp.Sleep(time.Millisecond*500),
		mouseMove(300, 200),
		chromedp.Sleep(time.Millisecond*500),
		chromedp.Evaluate(`window.scrollTo(0, 500)`, nil),
		chromedp.Sleep(time.Second*2),
	)
	if err != nil {
		return nil, err
	}

	cookies, err := readCookies(browserCtx)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(
		ctx, "cookie bootstrap finished",
		"cookies", len(cookies),
		"trusted", trusted,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return cookies, nil
}

// waitForSensorTrust polls the evolving sensor cookie at a fixed
// interval until the trust marker shows up or the wait budget runs
// out. Returns whether trust was reached.
func (b Bootstrapper) waitForSensorTrust(ctx context.Context, poll func(ctx context.Context) (string, error)) bool {
	maxPolls := int(b.waitBudget() / b.pollInterval())

	for i := 0; i < maxPolls; i++ {
		value, err := poll(ctx)
		if err != nil {
			slog.WarnContext(ctx, "failed to read sensor cookie", "err", err)
		} else if strings.Contains(value, trustedSensorMarker) {
			slog.DebugContext(ctx, "sensor cookie reached trusted state", "polls", i+1)
			return true
		}
		if err := b.sleep(ctx, b.pollInterval()); err != nil {
			return false
		}
	}
	return false
}

func mouseMove(x, y float64) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx)
	})
}

func readCookies(browserCtx context.Context) (map[string]string, error) {
	out := map[string]string{}
	err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			out[c.Name] = c.Value
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return out, nil
}
