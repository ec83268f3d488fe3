package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = time.Second
)

// Sender delivers the conversation history to the chat backend and returns
// the assistant's reply.
type Sender interface {
	Send(ctx context.Context, history []Message) (Message, error)
}

// Result describes how a submission ended.
type Result struct {
	// Skipped is set when the input was blank and nothing happened.
	Skipped bool
	// Reply is the assistant message that was appended: the backend's reply
	// or the fallback.
	Reply    Message
	Attempts int
	// Err is the last failure when the fallback was used, nil otherwise.
	Err error
}

// Fallback reports whether the submission ended with the fallback reply.
func (r Result) Fallback() bool { return r.Err != nil }

// Pipeline turns user input into conversation entries, retrying failed
// backend calls with exponential backoff.
type Pipeline struct {
	conv        *Conversation
	sender      Sender
	maxRetries  int
	backoffBase time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger

	inflight atomic.Int32
}

type Option func(*Pipeline)

// WithMaxRetries sets the number of attempts per submission. Values below 1
// are ignored.
func WithMaxRetries(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxRetries = n
		}
	}
}

func WithBackoffBase(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.backoffBase = d
		}
	}
}

// WithSleep replaces the backoff wait. Tests use it to record delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func NewPipeline(conv *Conversation, sender Sender, opts ...Option) *Pipeline {
	p := &Pipeline{
		conv:        conv,
		sender:      sender,
		maxRetries:  DefaultMaxRetries,
		backoffBase: DefaultBackoffBase,
		sleep:       sleepContext,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pipeline) Conversation() *Conversation { return p.conv }

// Loading reports whether a submission is waiting on the backend.
func (p *Pipeline) Loading() bool { return p.inflight.Load() > 0 }

// Backoff returns the wait before the attempt following retryCount failures.
func (p *Pipeline) Backoff(retryCount int) time.Duration {
	return time.Duration(float64(p.backoffBase) * math.Pow(2, float64(retryCount)))
}

// Submit appends content as a user message and obtains an assistant reply.
// Exactly one assistant message is appended per non-blank submission: the
// backend's reply, or FallbackContent once all attempts have failed or ctx
// is cancelled during a backoff wait.
func (p *Pipeline) Submit(ctx context.Context, content string) Result {
	if strings.TrimSpace(content) == "" {
		return Result{Skipped: true}
	}

	submissionID := uuid.New().String()
	_, history := p.conv.Append(UserMessage(content))

	p.inflight.Add(1)
	defer p.inflight.Add(-1)

	var lastErr error
	retryCount := 0
	for retryCount < p.maxRetries {
		reply, err := p.sender.Send(ctx, history)
		if err == nil {
			reply.Role = RoleAssistant
			p.conv.Append(reply)
			return Result{Reply: reply, Attempts: retryCount + 1}
		}

		lastErr = err
		retryCount++
		p.logger.Warn("chat attempt failed",
			"submission", submissionID,
			"attempt", retryCount,
			"error", err,
		)
		if retryCount == p.maxRetries {
			break
		}

		if err := p.sleep(ctx, p.Backoff(retryCount)); err != nil {
			lastErr = errors.Join(lastErr, fmt.Errorf("backoff interrupted: %w", err))
			break
		}
	}

	fallback := AssistantMessage(FallbackContent)
	p.conv.Append(fallback)
	return Result{Reply: fallback, Attempts: retryCount, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
