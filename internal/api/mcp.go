package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/finchat/internal/chat"
	"github.com/kalambet/finchat/internal/health"
)

// Asker submits a question to the chat backend.
type Asker interface {
	Submit(ctx context.Context, content string) chat.Result
}

// StatusChecker runs guarded health probes.
type StatusChecker interface {
	Tick(ctx context.Context) bool
	State() health.State
	LastProbe() time.Time
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Pipeline     Asker
	Conversation *chat.Conversation
	Monitor      StatusChecker
	Prompts      []string
	Version      string
}

// NewMCPServer creates an MCP server exposing the report assistant as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"finchat",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("finchat answers questions about IKEA, Volvo and H&M financial reports."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_reports",
			mcp.WithDescription("Ask a question about the indexed financial reports. The conversation so far is sent along."),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
		),
		mcpAskReports(deps),
	)

	s.AddTool(
		mcp.NewTool("server_status",
			mcp.WithDescription("Check whether the report backend is reachable."),
		),
		mcpServerStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("example_questions",
			mcp.WithDescription("List example questions that the backend can answer."),
		),
		mcpExampleQuestions(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"conversation://current",
			"Current Conversation",
			mcp.WithResourceDescription("Messages exchanged in this session, image data omitted"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceConversation(deps),
	)

	return s
}

func mcpAskReports(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		res := deps.Pipeline.Submit(ctx, question)
		if res.Skipped {
			return mcpError("question must not be blank"), nil
		}
		if res.Fallback() {
			return mcpError(res.Reply.Content), nil
		}

		content := []mcp.Content{mcp.TextContent{Type: "text", Text: res.Reply.Content}}
		for _, img := range res.Reply.Images {
			content = append(content,
				mcp.ImageContent{Type: "image", Data: img.Base64, MIMEType: "image/png"},
				mcp.TextContent{Type: "text", Text: "Figure: " + img.Caption},
			)
		}
		return &mcp.CallToolResult{Content: content}, nil
	}
}

func mcpServerStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		probed := deps.Monitor.Tick(ctx)
		state := deps.Monitor.State()

		msg := "backend is " + state.String()
		if !probed {
			msg += fmt.Sprintf(" (last checked %s)", deps.Monitor.LastProbe().Format(time.RFC3339))
		}
		return mcpText(msg), nil
	}
}

func mcpExampleQuestions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if len(deps.Prompts) == 0 {
			return mcpText("no example questions configured"), nil
		}
		var b strings.Builder
		for i, p := range deps.Prompts {
			fmt.Fprintf(&b, "%d. %s\n", i+1, p)
		}
		return mcpText(strings.TrimRight(b.String(), "\n")), nil
	}
}

func mcpResourceConversation(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type entry struct {
			Role     string   `json:"role"`
			Content  string   `json:"content"`
			Captions []string `json:"captions,omitempty"`
		}

		var entries []entry
		if deps.Conversation != nil {
			for _, m := range deps.Conversation.Messages() {
				e := entry{Role: string(m.Role), Content: m.Content}
				for _, img := range m.Images {
					e.Captions = append(e.Captions, img.Caption)
				}
				entries = append(entries, e)
			}
		}
		if entries == nil {
			entries = []entry{}
		}

		b, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal conversation: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
