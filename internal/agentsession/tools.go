package agentsession

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcp "github.com/mark3labs/mcp-go/mcp"

	"imessage-codex-bridge/internal/store"
)

// dynamicTools builds the notifications_list/get/search tool descriptors
// advertised to the agent in thread/start params (spec §4.3.1 step 3),
// using mcp-go purely as a JSON-Schema tool-descriptor builder — the
// agent itself is not an MCP client, so only mcp.Tool's InputSchema is
// marshaled into the params, never a running MCP server.
func (m *Manager) dynamicTools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool("notifications_list",
			mcp.WithDescription("List recent notifications ingested by the bridge, most recent first."),
			mcp.WithString("source", mcp.Description("Filter by source: all, webhook, cron, heartbeat (default all)")),
			mcp.WithNumber("count", mcp.Description("Number of rows to return, 1-200 (default 20)")),
		),
		mcp.NewTool("notifications_get",
			mcp.WithDescription("Fetch a single notification by id."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Notification id")),
		),
		mcp.NewTool("notifications_search",
			mcp.WithDescription("Substring search over notification summaries, source event ids and source accounts, most recent first."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
			mcp.WithNumber("count", mcp.Description("Max rows to return, 1-200 (default 20)")),
		),
	}
}

// handleToolCall answers an item/tool/call server request (spec §4.3.7)
// for one of the dynamic tools above. Any other tool name gets an error
// result ("unknown tool: <name>").
func (m *Manager) handleToolCall(ctx context.Context, name string, arguments map[string]any) *mcp.CallToolResult {
	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Name: name, Arguments: arguments}}

	switch name {
	case "notifications_list":
		return m.toolNotificationsList(ctx, req)
	case "notifications_get":
		return m.toolNotificationsGet(ctx, req)
	case "notifications_search":
		return m.toolNotificationsSearch(ctx, req)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown tool: %s", name))
	}
}

func (m *Manager) toolNotificationsList(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
	sourceStr := req.GetString("source", "all")
	args, _ := req.Params.Arguments.(map[string]any)
	count := clampCount(argCount(args, 20))

	filter := store.NotificationListFilter{Limit: count}
	if sourceStr != "" && sourceStr != "all" {
		filter.Source = store.NotificationSource(sourceStr)
	}

	rows, err := m.store.ListNotifications(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list notifications: %v", err))
	}
	return textResult(summarizeNotifications(rows))
}

func (m *Manager) toolNotificationsGet(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id")
	}
	n, err := m.store.GetNotification(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("notification not found: %s", id))
	}
	return textResult(summarizeNotification(n))
}

func (m *Manager) toolNotificationsSearch(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query")
	}
	args, _ := req.Params.Arguments.(map[string]any)
	count := clampCount(argCount(args, 20))

	rows, err := m.store.SearchNotifications(ctx, query, count)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err))
	}
	return textResult(summarizeNotifications(rows))
}

func clampCount(raw float64) int {
	n := int(raw)
	if n < 1 {
		n = 1
	}
	if n > 200 {
		n = 200
	}
	return n
}

// argCount reads a numeric "count" argument out of a tool-call argument
// map. JSON numbers decode to float64 through encoding/json, which is
// the shape item/tool/call params arrive in.
func argCount(arguments map[string]any, fallback float64) float64 {
	if arguments == nil {
		return fallback
	}
	switch v := arguments["count"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}

type notificationSummary struct {
	ID             string `json:"id"`
	Source         string `json:"source"`
	Status         string `json:"status"`
	Summary        string `json:"summary"`
	ReceivedAtMs   int64  `json:"receivedAtMs"`
	Delivery       string `json:"delivery,omitempty"`
	ReasonCode     string `json:"reasonCode,omitempty"`
	DuplicateCount int    `json:"duplicateCount"`
}

func summarizeNotification(n *store.Notification) notificationSummary {
	return notificationSummary{
		ID:             n.ID,
		Source:         string(n.Source),
		Status:         string(n.Status),
		Summary:        n.Summary,
		ReceivedAtMs:   n.ReceivedAt.UnixMilli(),
		Delivery:       n.Delivery,
		ReasonCode:     n.ReasonCode,
		DuplicateCount: n.DuplicateCount,
	}
}

func summarizeNotifications(rows []*store.Notification) []notificationSummary {
	out := make([]notificationSummary, len(rows))
	for i, n := range rows {
		out[i] = summarizeNotification(n)
	}
	return out
}

// toolCallResponse builds the item/tool/call response envelope spec
// §4.3.7 requires from an mcp-go CallToolResult. mcp-go's own wire shape
// (content/isError) is MCP's protocol, not this one — the agent only
// ever sees {success, contentItems} or {success:false, error}.
func toolCallResponse(result *mcp.CallToolResult) map[string]any {
	text := textFromContent(result.Content)
	if result.IsError {
		return map[string]any{"success": false, "error": text}
	}
	return map[string]any{
		"success": true,
		"contentItems": []map[string]any{
			{"type": "inputText", "text": text},
		},
	}
}

func textFromContent(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

// toolSchemasForParams marshals the dynamic tool descriptors' input
// schemas into the shape thread/start expects: a list of
// {name, description, inputSchema}.
func (m *Manager) toolSchemasForParams() []map[string]any {
	tools := m.dynamicTools()
	out := make([]map[string]any, len(tools))
	for i, tool := range tools {
		out[i] = map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
			"inputSchema": tool.InputSchema,
		}
	}
	return out
}
