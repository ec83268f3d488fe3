package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"strings"
	"testing"

	"github.com/kalambet/finchat/internal/chat"
	"github.com/kalambet/finchat/internal/health"
)

type senderFunc func(ctx context.Context, history []chat.Message) (chat.Message, error)

func (f senderFunc) Send(ctx context.Context, history []chat.Message) (chat.Message, error) {
	return f(ctx, history)
}

type fakeStatus struct {
	ticked bool
	state  health.State
}

func (f *fakeStatus) Tick(context.Context) bool { return f.ticked }
func (f *fakeStatus) State() health.State       { return f.state }

func newTestSession(sender chat.Sender, out *bytes.Buffer, imageDir string) (*chatSession, *chat.Conversation) {
	conv := chat.NewConversation(chat.Greeting())
	p := chat.NewPipeline(conv, sender, chat.WithLogger(quietLogger()))
	return newChatSession(out, p, []string{"What were IKEA's net sales?", "How did Volvo's margins develop?"}, imageDir), conv
}

func TestRunChatLoop_SubmitsAndRendersReplies(t *testing.T) {
	png := base64.StdEncoding.EncodeToString([]byte("\x89PNG fake"))
	sender := senderFunc(func(_ context.Context, history []chat.Message) (chat.Message, error) {
		last := history[len(history)-1]
		return chat.Message{
			Content: "Answer to: " + last.Content,
			Images:  []chat.Image{{Base64: png, Caption: "Volvo report p. 9"}},
		}, nil
	})

	var out bytes.Buffer
	dir := t.TempDir()
	s, conv := newTestSession(sender, &out, dir)

	input := "hello\n/examples\n/ask 2\n/ask 9\n/bogus\n"
	if err := runChatLoop(ctx, strings.NewReader(input), s); err != nil {
		t.Fatalf("runChatLoop: %v", err)
	}

	if conv.Len() != 5 {
		t.Fatalf("conversation has %d messages, want 5", conv.Len())
	}
	text := out.String()
	for _, want := range []string{
		"Answer to: hello",
		"Answer to: How did Volvo's margins develop?",
		"[image] Volvo report p. 9",
		"2. How did Volvo's margins develop?",
		"usage: /ask N (1-2)",
		"unknown command /bogus",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Errorf("saved %d images, want 2", len(files))
	}
}

func TestRunChatLoop_QuitCancelsPendingSubmission(t *testing.T) {
	sender := senderFunc(func(ctx context.Context, _ []chat.Message) (chat.Message, error) {
		<-ctx.Done()
		return chat.Message{}, ctx.Err()
	})

	var out bytes.Buffer
	s, conv := newTestSession(sender, &out, "")

	if err := runChatLoop(ctx, strings.NewReader("slow question\n/quit\n"), s); err != nil {
		t.Fatalf("runChatLoop: %v", err)
	}

	msgs := conv.Messages()
	if len(msgs) != 3 {
		t.Fatalf("conversation has %d messages, want 3", len(msgs))
	}
	if msgs[2].Content != chat.FallbackContent {
		t.Errorf("last message = %q, want fallback", msgs[2].Content)
	}
	if !strings.Contains(out.String(), chat.FallbackContent) {
		t.Errorf("fallback not rendered:\n%s", out.String())
	}
}

func TestChatSession_BlankLineIsIgnored(t *testing.T) {
	var out bytes.Buffer
	s, conv := newTestSession(senderFunc(func(context.Context, []chat.Message) (chat.Message, error) {
		t.Error("sender must not be called")
		return chat.Message{}, nil
	}), &out, "")

	if quit := s.handleLine(ctx, "   "); quit {
		t.Error("blank line ended the session")
	}
	s.wg.Wait()
	if conv.Len() != 1 {
		t.Errorf("conversation has %d messages, want 1", conv.Len())
	}
}

func TestChatSession_Status(t *testing.T) {
	var out bytes.Buffer
	s, _ := newTestSession(nil, &out, "")
	s.status = &fakeStatus{ticked: false, state: health.Offline}

	s.handleLine(ctx, "/status")
	if !strings.Contains(out.String(), "checked moments ago") || !strings.Contains(out.String(), "backend: offline") {
		t.Errorf("output = %q", out.String())
	}
}

func TestChatSession_OfflineBanner(t *testing.T) {
	var out bytes.Buffer
	s, _ := newTestSession(nil, &out, "")

	s.healthChanged(health.Offline)
	if !strings.Contains(out.String(), offlineBanner) {
		t.Errorf("output = %q, want offline banner", out.String())
	}

	out.Reset()
	s.healthChanged(health.Online)
	if strings.Contains(out.String(), offlineBanner) {
		t.Errorf("banner shown while online: %q", out.String())
	}
}

func TestChatSession_ExamplesToggle(t *testing.T) {
	var out bytes.Buffer
	s, _ := newTestSession(nil, &out, "")

	s.handleLine(ctx, "/examples")
	if !strings.Contains(out.String(), "1. What were IKEA's net sales?") {
		t.Errorf("examples not listed: %q", out.String())
	}
	out.Reset()
	s.handleLine(ctx, "/examples")
	if !strings.Contains(out.String(), "examples hidden") {
		t.Errorf("second toggle output = %q", out.String())
	}
}

func TestChatSession_Quit(t *testing.T) {
	s, _ := newTestSession(nil, &bytes.Buffer{}, "")
	for _, cmd := range []string{"/quit", "/exit"} {
		if !s.handleLine(ctx, cmd) {
			t.Errorf("%s did not end the session", cmd)
		}
	}
}
