// File: internal/intercept/cookies.go
package intercept

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/sessionsmith/internal/cookiestore"
)

// CookieParam is the portable cookie shape shared with the snapshot store.
type CookieParam = cookiestore.Record

// Replay installs the cookie jar into the browser before navigation. Each
// record is translated onto a CDP SetCookie call: session cookies carry no
// expiry, sameSite follows the export-to-CDP mapping.
func Replay(ctx context.Context, jar []CookieParam) error {
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range jar {
			p := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly).
				WithSameSite(sameSiteParam(c.NormalizedSameSite()))

			if epoch, ok := c.ExpiresEpoch(); ok {
				exp := cdp.TimeSinceEpoch(time.Unix(epoch, 0))
				p = p.WithExpires(&exp)
			}

			if err := p.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %q for %q: %w", c.Name, c.Domain, err)
			}
		}
		return nil
	}))
}

// ReadCookies snapshots the full live cookie set back into the portable
// shape, so a post-login jar can be persisted for future replays.
func ReadCookies(ctx context.Context) ([]CookieParam, error) {
	var cookies []*network.Cookie
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}

	records := make([]CookieParam, 0, len(cookies))
	for _, c := range cookies {
		rec := CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: exportSameSite(c.SameSite),
			Session:  c.Session,
		}
		if !c.Session && c.Expires > 0 {
			exp := c.Expires
			rec.ExpirationDate = &exp
		}
		records = append(records, rec)
	}
	return records, nil
}

func sameSiteParam(normalized string) network.CookieSameSite {
	switch normalized {
	case "Strict":
		return network.CookieSameSiteStrict
	case "None":
		return network.CookieSameSiteNone
	default:
		return network.CookieSameSiteLax
	}
}

func exportSameSite(s network.CookieSameSite) string {
	switch s {
	case network.CookieSameSiteStrict:
		return "strict"
	case network.CookieSameSiteLax:
		return "lax"
	case network.CookieSameSiteNone:
		return "no_restriction"
	default:
		return "unspecified"
	}
}
