// File: internal/inbox/gmail.go
package inbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

func jsonConfig() jsoniter.API { return jsoniter.ConfigCompatibleWithStandardLibrary }

// Message is one fetched mail, reduced to what code extraction needs.
type Message struct {
	ID         string
	ReceivedAt time.Time
	Body       string
}

// MailService is the mailbox read surface the poller depends on. The Gmail
// implementation is the production one; tests substitute fakes.
type MailService interface {
	// Search returns message ids matching the provider query string,
	// newest first.
	Search(ctx context.Context, query string) ([]string, error)
	// Fetch retrieves one message with its decoded text body.
	Fetch(ctx context.Context, id string) (*Message, error)
}

// GmailService implements MailService over the Gmail REST API.
type GmailService struct {
	svc    *gmail.Service
	logger *zap.Logger
}

// NewGmailService dials the Gmail API with the given token source.
func NewGmailService(ctx context.Context, ts oauth2.TokenSource, logger *zap.Logger) (*GmailService, error) {
	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &GmailService{svc: svc, logger: logger.Named("gmail")}, nil
}

// Search implements MailService.
func (g *GmailService) Search(ctx context.Context, query string) ([]string, error) {
	resp, err := g.svc.Users.Messages.List("me").Q(query).MaxResults(10).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("search mailbox: %w", err)
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// Fetch implements MailService. The received time comes from the message's
// internalDate, which has millisecond precision, so freshness comparisons
// downstream can be second-granular.
func (g *GmailService) Fetch(ctx context.Context, id string) (*Message, error) {
	m, err := g.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("fetch message %s: %w", id, err)
	}

	var body strings.Builder
	collectTextParts(m.Payload, &body)

	return &Message{
		ID:         id,
		ReceivedAt: time.UnixMilli(m.InternalDate),
		Body:       body.String(),
	}, nil
}

// collectTextParts walks the MIME tree recursively, decoding every text
// part's base64url payload. Multipart containers carry their content in
// children; leaves carry it in Body.Data.
func collectTextParts(part *gmail.MessagePart, out *strings.Builder) {
	if part == nil {
		return
	}
	if part.Body != nil && part.Body.Data != "" && strings.HasPrefix(part.MimeType, "text/") {
		decoded, err := base64.RawURLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			decoded, err = base64.URLEncoding.DecodeString(part.Body.Data)
		}
		if err == nil {
			out.Write(decoded)
			out.WriteByte('\n')
		}
	}
	for _, child := range part.Parts {
		collectTextParts(child, out)
	}
}
