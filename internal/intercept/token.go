// File: internal/intercept/token.go
package intercept

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// bootPath is the API path whose requests carry the session token.
const bootPath = "/api/client.boot"

// CaptureTimeoutError means no matching request arrived within the window.
type CaptureTimeoutError struct {
	Elapsed time.Duration
}

func (e *CaptureTimeoutError) Error() string {
	return fmt.Sprintf("no token-bearing request observed within %s", e.Elapsed.Round(time.Second))
}

// Interceptor watches a browser tab's outbound requests for the boot call
// and extracts the session token from its body. Observation is passive:
// requests are never blocked or modified.
type Interceptor struct {
	logger *zap.Logger
}

// NewInterceptor builds an interceptor for one capture attempt.
func NewInterceptor(logger *zap.Logger) *Interceptor {
	return &Interceptor{logger: logger.Named("intercept")}
}

// Capture is a pending token observation. Created by Start, resolved at
// most once.
type Capture struct {
	ch    chan string
	once  sync.Once
	start time.Time
}

// Start registers the request observer on the tab behind ctx. It must be
// called before the navigation that triggers the boot request; events fired
// before registration are lost.
func (i *Interceptor) Start(ctx context.Context) *Capture {
	capture := &Capture{
		ch:    make(chan string, 1),
		start: time.Now(),
	}

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		req, ok := ev.(*network.EventRequestWillBeSent)
		if !ok || req.Request == nil {
			return
		}
		if !strings.Contains(req.Request.URL, bootPath) {
			return
		}

		body := decodePostData(req.Request)
		token, found := ExtractToken(requestContentType(req.Request), body)
		if !found {
			i.logger.Debug("Boot request without extractable token.",
				zap.String("url", req.Request.URL),
				zap.Bool("has_post_data", req.Request.HasPostData))
			return
		}

		i.logger.Info("Session token captured.", zap.String("url", req.Request.URL))
		capture.once.Do(func() {
			capture.ch <- token
		})
	})

	return capture
}

// Wait blocks until a token is captured, the timeout elapses, or ctx is
// done. Timeout is reported as a *CaptureTimeoutError.
func (c *Capture) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case token := <-c.ch:
		return token, nil
	case <-time.After(timeout):
		return "", &CaptureTimeoutError{Elapsed: time.Since(c.start)}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// CaptureToken runs the full passive capture against an already-prepared
// tab: replay the cookie jar, arm the observer, navigate to the workspace,
// and wait for the boot request. On success the live cookie set is read
// back so callers can persist any rotation that happened during boot.
func (i *Interceptor) CaptureToken(ctx context.Context, jar []CookieParam, workspaceURL string, timeout time.Duration) (string, []CookieParam, error) {
	if len(jar) > 0 {
		if err := Replay(ctx, jar); err != nil {
			return "", nil, fmt.Errorf("replay cookie jar: %w", err)
		}
	}

	// Observer before navigation; the boot request can fire immediately.
	capture := i.Start(ctx)

	if err := chromedp.Run(ctx, chromedp.Navigate(workspaceURL)); err != nil {
		return "", nil, fmt.Errorf("navigate to %s: %w", workspaceURL, err)
	}

	token, err := capture.Wait(ctx, timeout)
	if err != nil {
		return "", nil, err
	}

	cookies, err := ReadCookies(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("read cookies after capture: %w", err)
	}
	return token, cookies, nil
}

// decodePostData reassembles a request body from CDP post data entries.
// Entries are base64; entries that fail to decode are taken verbatim.
func decodePostData(req *network.Request) []byte {
	if !req.HasPostData || len(req.PostDataEntries) == 0 {
		return nil
	}
	var buf []byte
	for _, entry := range req.PostDataEntries {
		if entry == nil || entry.Bytes == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			buf = append(buf, entry.Bytes...)
			continue
		}
		buf = append(buf, decoded...)
	}
	return buf
}

// requestContentType finds the Content-Type header regardless of casing.
func requestContentType(req *network.Request) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, "Content-Type") {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
