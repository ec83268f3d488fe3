package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kalambet/finchat/internal/chat"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorDim    = "\033[2m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(w io.Writer, label string, format string, args ...any) {
	fmt.Fprintf(w, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

// writeMessage renders one conversation entry for the terminal.
func writeMessage(w io.Writer, m chat.Message) {
	label := "you"
	color := colorCyan
	if m.Role == chat.RoleAssistant {
		label = "assistant"
		color = colorGreen
	}
	fmt.Fprintf(w, "%s\n%s\n", colorize(color+colorBold, label+":"), strings.TrimRight(m.Content, "\n "))
	for _, img := range m.Images {
		fmt.Fprintf(w, "%s\n", colorize(colorDim, "  [image] "+img.Caption))
	}
	fmt.Fprintln(w)
}

// saveImages writes the message's images as PNG files into dir and returns
// their paths.
func saveImages(dir, conversationID string, index int, m chat.Message) ([]string, error) {
	if dir == "" || len(m.Images) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating image dir: %w", err)
	}

	prefix := conversationID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	var paths []string
	for i, img := range m.Images {
		data, err := img.Decode()
		if err != nil {
			return paths, err
		}
		path := filepath.Join(dir, fmt.Sprintf("%s-%03d-%d.png", prefix, index, i+1))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return paths, fmt.Errorf("writing %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
