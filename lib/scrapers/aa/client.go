package aa

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"
	"pointval-backend/lib/restyutil"
	"pointval-backend/lib/retryutil"
	"pointval-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

const (
	defaultBaseUrl = "https://www.aa.com"
	itineraryPath  = "/booking/api/search/itinerary"

	// must agree with the engine the bootstrapper drives: aa.com
	// cross-checks the user-agent string against the TLS fingerprint
	// and rejects mismatches
	userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:133.0) Gecko/20100101 Firefox/133.0"
)

type ClientOptions struct {
	// defaults to https://www.aa.com, overridable for tests
	BaseUrl string
	// per-call retry budget; zero value gets the default policy of
	// 3 attempts with 1s..10s exponential backoff
	Retry retryutil.Policy
	// optional debug dump target for full request/response pairs
	InstrumentOutput restyutil.InstrumentOutput
}

// Client issues the itinerary search POST under a harvested cookie
// snapshot. It holds no session state of its own: every Fetch builds a
// one-shot resty session around the cookies it is handed, mirroring
// how a browser tab would look to the remote.
type Client struct {
	opts ClientOptions
}

func NewClient(opts ClientOptions) *Client {
	if opts.BaseUrl == "" {
		opts.BaseUrl = defaultBaseUrl
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retryutil.Policy{
			MaxAttempts: 3,
			BaseWait:    time.Second,
			MaxWait:     time.Second * 10,
		}
	}
	return &Client{opts: opts}
}

func (c *Client) newSession(cookies map[string]string) (*resty.Client, error) {
	base, err := url.Parse(c.opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(c.opts.BaseUrl)
	client.SetTimeout(time.Second * 30)

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	jarCookies := make([]*http.Cookie, 0, len(cookies))
	for name, value := range cookies {
		jarCookies = append(jarCookies, &http.Cookie{
			Name:  name,
			Value: value,
			Path:  "/",
		})
	}
	jar.SetCookies(base, jarCookies)
	client.SetCookieJar(jar)

	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeaders(map[string]string{
		"accept":          "application/json, text/plain, */*",
		"accept-language": "en-US,en;q=0.9",
		"content-type":    "application/json",
		"origin":          c.opts.BaseUrl,
		"referer":         c.opts.BaseUrl + "/booking/choose-flights/1",
		"sec-fetch-dest":  "empty",
		"sec-fetch-mode":  "cors",
		"sec-fetch-site":  "same-origin",
		"user-agent":      userAgent,
	})
	// these headers are validated server-side against the cookie jar;
	// a stale or missing value is an instant 403 even with otherwise
	// healthy cookies
	client.SetHeader("x-xsrf-token", cookies["XSRF-TOKEN"])
	client.SetHeader("x-cid", cookies["spa_session_id"])
	client.SetHeader("x-dtpc", cookies["dtPC"])

	telemetry.InstrumentResty(client, "scrapers/aa/http")
	restyutil.InstrumentClient(client, c.opts.InstrumentOutput)

	return client, nil
}

// FetchItineraries runs one pricing search (award or cash) under the
// given cookie snapshot. Recoverable failures are retried under the
// client's policy; the error that finally comes back is a
// *RequestError whose kind tells the caller whether fresh cookies
// would help.
func (c *Client) FetchItineraries(ctx context.Context, cookies map[string]string, req SearchRequest) (*ItineraryResponse, error) {
	session, err := c.newSession(cookies)
	if err != nil {
		return nil, err
	}
	payload := newItineraryRequest(req)

	var out ItineraryResponse
	err = c.opts.Retry.Do(ctx, func(ctx context.Context) error {
		res, err := session.R().
			SetContext(ctx).
			SetBody(payload).
			Post(itineraryPath)
		if err != nil {
			return &RequestError{Kind: KindNetwork, Search: req.Kind, cause: err}
		}

		if res.StatusCode() != http.StatusOK {
			reqErr := &RequestError{
				Kind:       classifyStatus(res.StatusCode()),
				Search:     req.Kind,
				StatusCode: res.StatusCode(),
			}
			slog.WarnContext(
				ctx, "itinerary search rejected",
				"search", req.Kind,
				"status", res.StatusCode(),
				"kind", reqErr.Kind.String(),
			)
			return reqErr
		}

		out = ItineraryResponse{}
		return json.Unmarshal(res.Body(), &out)
	}, isRetryable)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(
		ctx, "itinerary search completed",
		"search", req.Kind,
		"origin", req.Origin,
		"destination", req.Destination,
		"flights", len(out.Slices),
	)
	return &out, nil
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status >= 500:
		return KindServerError
	case status == http.StatusForbidden || status == http.StatusTooManyRequests:
		return KindCookiesRejected
	default:
		// unknown non-200s are treated conservatively as a session
		// problem rather than a transient one
		return KindCookiesRejected
	}
}

// every classified kind is worth retrying within the per-call budget;
// cookie rejection only escalates once the budget is spent, which the
// orchestrator detects through IsCookiesRejected on the final error.
func isRetryable(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr)
}
