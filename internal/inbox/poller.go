// File: internal/inbox/poller.go
package inbox

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"
)

// codePattern matches the short confirmation code embedded in the mail
// body, e.g. "ABC-DE" or "X4F-9QZ".
var codePattern = regexp.MustCompile(`\b[A-Z0-9]{3}-[A-Z0-9]{2,3}\b`)

// WaitTimeoutError means no eligible code arrived within the window.
type WaitTimeoutError struct {
	Elapsed time.Duration
	Polls   int
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("no confirmation code received after %d mailbox polls (%s elapsed)", e.Polls, e.Elapsed.Round(time.Second))
}

// Poller searches the mailbox for freshly delivered confirmation codes.
type Poller struct {
	mail         MailService
	senderDomain string
	subject      string
	pollInterval time.Duration
	logger       *zap.Logger

	// seen guards against re-fetching messages already rejected as stale.
	seen map[string]bool
}

// NewPoller builds a poller over the given mail service.
func NewPoller(mail MailService, senderDomain, subjectContains string, pollInterval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		mail:         mail,
		senderDomain: senderDomain,
		subject:      subjectContains,
		pollInterval: pollInterval,
		logger:       logger.Named("inbox"),
		seen:         make(map[string]bool),
	}
}

// AwaitCode polls the mailbox until a message strictly newer than notBefore
// yields a code, or maxWait elapses.
//
// The search query is day-granular (the provider's "after:" operator only
// accepts dates), so every hit is re-checked against its exact receipt
// time. notBefore must have been captured before the page action that
// triggers the mail, otherwise a code from a previous attempt could slip
// through.
func (p *Poller) AwaitCode(ctx context.Context, notBefore time.Time, maxWait time.Duration) (string, error) {
	query := fmt.Sprintf(`from:%s subject:"%s" after:%s`,
		p.senderDomain, p.subject, notBefore.Format("2006/01/02"))
	p.logger.Info("Waiting for confirmation code.",
		zap.String("query", query),
		zap.Time("not_before", notBefore))

	deadline := time.Now().Add(maxWait)
	polls := 0
	for {
		polls++
		code, err := p.checkOnce(ctx, query, notBefore)
		if err != nil {
			return "", err
		}
		if code != "" {
			p.logger.Info("Confirmation code received.", zap.Int("polls", polls))
			return code, nil
		}

		if time.Now().After(deadline) {
			return "", &WaitTimeoutError{Elapsed: maxWait, Polls: polls}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

func (p *Poller) checkOnce(ctx context.Context, query string, notBefore time.Time) (string, error) {
	ids, err := p.mail.Search(ctx, query)
	if err != nil {
		return "", fmt.Errorf("poll mailbox: %w", err)
	}

	for _, id := range ids {
		if p.seen[id] {
			continue
		}
		msg, err := p.mail.Fetch(ctx, id)
		if err != nil {
			return "", fmt.Errorf("fetch candidate message: %w", err)
		}

		// Strictly after: a mail delivered at exactly notBefore belongs
		// to a previous attempt.
		if !msg.ReceivedAt.After(notBefore) {
			p.seen[id] = true
			p.logger.Debug("Skipping stale message.",
				zap.String("id", id),
				zap.Time("received_at", msg.ReceivedAt))
			continue
		}

		if code := codePattern.FindString(msg.Body); code != "" {
			return code, nil
		}
		p.seen[id] = true
		p.logger.Debug("Fresh message without a code.", zap.String("id", id))
	}
	return "", nil
}
