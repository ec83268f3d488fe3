package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/kalambet/finchat/internal/chat"
	"github.com/kalambet/finchat/internal/config"
	"github.com/kalambet/finchat/internal/health"
	"github.com/kalambet/finchat/internal/prompts"
	"github.com/kalambet/finchat/internal/storage"
)

const offlineBanner = "Server connection error. Please try again later or contact support."

var (
	chatResume    string
	chatNoHistory bool
	chatImageDir  string
	askJSON       bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat about the financial reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cfg)
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runAsk(cmd.Context(), cmd.OutOrStdout(), cfg, strings.Join(args, " "))
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatResume, "resume", "", "resume a stored conversation by ID")
	chatCmd.Flags().BoolVar(&chatNoHistory, "no-history", false, "do not store this conversation")
	chatCmd.Flags().StringVar(&chatImageDir, "image-dir", "", "write report page images to this directory")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the result as JSON")
}

func newPipeline(cfg config.Config, conv *chat.Conversation, sender chat.Sender, logger *slog.Logger) *chat.Pipeline {
	return chat.NewPipeline(conv, sender,
		chat.WithMaxRetries(cfg.Client.MaxRetries),
		chat.WithBackoffBase(cfg.Client.BackoffBase),
		chat.WithLogger(logger),
	)
}

// openChatLog returns a logger writing to finchat.log in the data dir so
// that log lines do not interleave with the conversation.
func openChatLog(cfg config.Config) (*slog.Logger, func(), error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating data dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(cfg.Storage.DataDir, "finchat.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening chat log: %w", err)
	}
	return newLogger(cfg.Log.Level, "text", f), func() { f.Close() }, nil
}

// loadConversation resumes a stored conversation or starts a new one with
// the greeting. A nil store means history is disabled.
func loadConversation(store *storage.Store, resumeID string) (*chat.Conversation, error) {
	if resumeID == "" {
		conv := chat.NewConversation(chat.Greeting())
		if store != nil {
			if err := store.CreateConversation(conv.ID(), ""); err != nil {
				return nil, err
			}
			for i, m := range conv.Messages() {
				if err := store.SaveMessage(conv.ID(), i, m); err != nil {
					return nil, err
				}
			}
		}
		return conv, nil
	}

	if store == nil {
		return nil, errors.New("--resume needs history enabled")
	}
	if _, err := store.GetConversation(resumeID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("conversation %s not found", resumeID)
		}
		return nil, err
	}
	history, err := store.GetMessages(resumeID)
	if err != nil {
		return nil, err
	}
	return chat.ResumeConversation(resumeID, history...), nil
}

// recordHistory persists every appended message of conv.
func recordHistory(store *storage.Store, conv *chat.Conversation, logger *slog.Logger) {
	id := conv.ID()
	conv.OnAppend(func(index int, m chat.Message) {
		if err := store.SaveMessage(id, index, m); err != nil {
			logger.Error("saving message", "conversation", id, "index", index, "error", err)
		}
	})
}

func runChat(ctx context.Context, in io.Reader, out io.Writer, cfg config.Config) error {
	logger, closeLog, err := openChatLog(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	var store *storage.Store
	if !chatNoHistory {
		store, err = storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()
	}

	conv, err := loadConversation(store, chatResume)
	if err != nil {
		return err
	}
	if store != nil {
		recordHistory(store, conv, logger)
	}

	examples, err := prompts.Resolve(cfg.Prompts.File)
	if err != nil {
		printWarning("example questions: %v; using built-in list", err)
		examples = prompts.Defaults()
	}

	gw := newGatewayClient(cfg)
	s := newChatSession(out, newPipeline(cfg, conv, gw.sender, logger), examples, chatImageDir)

	monitor, err := health.NewMonitor(gw.prober, health.Config{
		InitialDelay: cfg.Health.InitialDelay,
		Interval:     cfg.Health.Interval,
		MinSpacing:   cfg.Health.MinSpacing,
	}, health.WithLogger(logger), health.WithOnChange(s.healthChanged))
	if err != nil {
		return err
	}
	s.status = monitor

	monitor.Start(ctx)
	defer monitor.Stop()

	s.printf("%s\n", colorize(colorDim, "conversation "+conv.ID()+"  (type /help for commands)"))
	for _, m := range conv.Messages() {
		s.writeMessage(m)
	}
	return runChatLoop(ctx, in, s)
}

type statusSource interface {
	Tick(ctx context.Context) bool
	State() health.State
}

// chatSession is the terminal front end of a pipeline. Output from the
// reader loop, submissions and the monitor goes through one lock.
type chatSession struct {
	outMu sync.Mutex
	out   io.Writer

	pipeline *chat.Pipeline
	status   statusSource
	examples []string
	imageDir string

	showExamples bool
	wg           sync.WaitGroup
}

func newChatSession(out io.Writer, p *chat.Pipeline, examples []string, imageDir string) *chatSession {
	s := &chatSession{
		out:      out,
		pipeline: p,
		examples: examples,
		imageDir: imageDir,
	}
	conv := p.Conversation()
	conv.OnAppend(func(index int, m chat.Message) {
		if m.Role != chat.RoleAssistant {
			return
		}
		s.writeMessage(m)
		paths, err := saveImages(s.imageDir, conv.ID(), index, m)
		for _, path := range paths {
			s.printf("%s\n", colorize(colorDim, "  saved "+path))
		}
		if err != nil {
			s.printf("%s\n", colorize(colorYellow, "  could not save images: "+err.Error()))
		}
	})
	return s
}

func (s *chatSession) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *chatSession) writeMessage(m chat.Message) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	writeMessage(s.out, m)
}

func (s *chatSession) healthChanged(state health.State) {
	switch state {
	case health.Offline:
		s.printf("%s\n", colorize(colorRed, offlineBanner))
	case health.Online:
		s.printf("%s\n", colorize(colorDim, "backend online"))
	}
}

func (s *chatSession) printExamples() {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintln(s.out, colorize(colorBold, "Example questions:"))
	for i, q := range s.examples {
		fmt.Fprintf(s.out, "  %d. %s\n", i+1, q)
	}
}

func (s *chatSession) printHelp() {
	s.printf("%s", `Commands:
  /examples   show or hide example questions
  /ask N      ask example question N
  /status     check the backend now
  /quit       leave the chat
`)
}

// submit hands text to the pipeline in the background; the reply is
// rendered by the conversation observer.
func (s *chatSession) submit(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.printf("%s\n", colorize(colorDim, "thinking..."))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pipeline.Submit(ctx, text)
	}()
}

// handleLine processes one input line and reports whether the session
// should end.
func (s *chatSession) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		s.submit(ctx, line)
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		s.printHelp()
	case "/examples":
		s.showExamples = !s.showExamples
		if s.showExamples {
			s.printExamples()
		} else {
			s.printf("%s\n", colorize(colorDim, "examples hidden"))
		}
	case "/ask":
		n := 0
		if len(fields) == 2 {
			n, _ = strconv.Atoi(fields[1])
		}
		if n < 1 || n > len(s.examples) {
			s.printf("usage: /ask N (1-%d)\n", len(s.examples))
			return false
		}
		q := s.examples[n-1]
		s.printf("%s %s\n", colorize(colorCyan+colorBold, "you:"), q)
		s.submit(ctx, q)
	case "/status":
		if s.status == nil {
			s.printf("backend: unknown\n")
			return false
		}
		if !s.status.Tick(ctx) {
			s.printf("%s\n", colorize(colorDim, "checked moments ago"))
		}
		s.printf("backend: %s\n", s.status.State())
	default:
		s.printf("unknown command %s (try /help)\n", fields[0])
	}
	return false
}

// runChatLoop reads lines from in until EOF, /quit or ctx ends. On EOF it
// waits for pending replies; on /quit or cancellation pending submissions
// are cancelled and finish with the fallback.
func runChatLoop(ctx context.Context, in io.Reader, s *chatSession) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				s.wg.Wait()
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if s.handleLine(ctx, line) {
				return nil
			}
		}
	}
}

type askOutput struct {
	ConversationID string       `json:"conversation_id"`
	Reply          chat.Message `json:"reply"`
	Attempts       int          `json:"attempts"`
	Fallback       bool         `json:"fallback"`
}

func runAsk(ctx context.Context, out io.Writer, cfg config.Config, question string) error {
	if strings.TrimSpace(question) == "" {
		return errors.New("question is empty")
	}

	conv := chat.NewConversation(chat.Greeting())
	gw := newGatewayClient(cfg)
	logger := newLogger(cfg.Log.Level, "text", os.Stderr)
	res := newPipeline(cfg, conv, gw.sender, logger).Submit(ctx, question)

	if askJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(askOutput{
			ConversationID: conv.ID(),
			Reply:          res.Reply,
			Attempts:       res.Attempts,
			Fallback:       res.Fallback(),
		}); err != nil {
			return err
		}
	} else {
		writeMessage(out, res.Reply)
	}

	if res.Fallback() {
		return fmt.Errorf("no reply after %d attempts: %w", res.Attempts, res.Err)
	}
	return nil
}
