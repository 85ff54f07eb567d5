package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"mindmap/internal/application"
	"mindmap/internal/application/engine"
	"mindmap/internal/domain"
)

// Editor is the part of the engine the tools drive
type Editor interface {
	State() *domain.EditorState
	Registry() *engine.Registry
	Dispatch(ctx context.Context, commandID string, params application.Params) error
	DispatchComposite(ctx context.Context, description string, steps ...engine.Step) error
	Undo(ctx context.Context) error
	Redo(ctx context.Context) error
	UndoDescription() string
	RedoDescription() string
}

// RegisterReadTools adds the read-only mindmap tools to the MCP server.
func RegisterReadTools(s *server.MCPServer, ed Editor) {
	s.AddTool(treeTool(), treeHandler(ed))
	s.AddTool(nodeTool(), nodeHandler(ed))
	s.AddTool(commandsTool(), commandsHandler(ed))
}

// --- tree ---

func treeTool() mcp.Tool {
	return mcp.NewTool("tree",
		mcp.WithDescription("Display the mindmap as an indented outline. Each line shows the node's short ID in brackets; the current node is marked with *."),
		mcp.WithString("node_id",
			mcp.Description("Short ID of the subtree root. Omit for the whole mindmap."),
		),
		mcp.WithBoolean("expand_all",
			mcp.Description("Also show the children of collapsed nodes"),
		),
	)
}

func treeHandler(ed Editor) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s := ed.State()
		start := req.GetString("node_id", "")
		if start == "" {
			root, ok := s.Root()
			if !ok {
				return mcp.NewToolResultText("The mindmap is empty."), nil
			}
			start = root.ShortID
		}
		n, ok := s.Node(start)
		if !ok {
			return toolError(application.NotFound("node_id", start))
		}

		var sb strings.Builder
		renderTree(&sb, s, n, "", req.GetBool("expand_all", false))
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func renderTree(sb *strings.Builder, s *domain.EditorState, n domain.Node, prefix string, expandAll bool) {
	fmt.Fprintf(sb, "%s[%s] %s", prefix, n.ShortID, n.Title)
	if n.ShortID == s.CurrentNodeID() {
		sb.WriteString(" *")
	}
	children := s.Children(n.ShortID)
	if s.IsCollapsed(n.ShortID) && !expandAll {
		fmt.Fprintf(sb, " (+%d hidden)\n", len(children))
		return
	}
	sb.WriteByte('\n')
	for _, child := range children {
		renderTree(sb, s, child, prefix+"  ", expandAll)
	}
}

// --- node ---

func nodeTool() mcp.Tool {
	return mcp.NewTool("node",
		mcp.WithDescription("Show one node: title, note, parent, position and children."),
		mcp.WithString("node_id",
			mcp.Description("Short ID of the node. Omit for the current node."),
		),
	)
}

func nodeHandler(ed Editor) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s := ed.State()
		id := req.GetString("node_id", s.CurrentNodeID())
		n, ok := s.Node(id)
		if !ok {
			return toolError(application.NotFound("node_id", id))
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "ID: %s\n", n.ShortID)
		fmt.Fprintf(&sb, "Title: %s\n", n.Title)
		if n.IsRoot() {
			sb.WriteString("Parent: (root)\n")
		} else {
			fmt.Fprintf(&sb, "Parent: %s\n", n.ParentShortID)
			fmt.Fprintf(&sb, "Position: %d\n", n.OrderIndex)
		}
		if s.IsCollapsed(n.ShortID) {
			sb.WriteString("Collapsed: yes\n")
		}
		if n.Note != "" {
			fmt.Fprintf(&sb, "Note:\n%s\n", n.Note)
		}
		children := s.Children(n.ShortID)
		if len(children) > 0 {
			sb.WriteString("Children:\n")
			for _, c := range children {
				fmt.Fprintf(&sb, "  [%s] %s\n", c.ShortID, c.Title)
			}
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// --- commands ---

func commandsTool() mcp.Tool {
	return mcp.NewTool("commands",
		mcp.WithDescription("List the commands accepted by dispatch and batch, with their parameters."),
		mcp.WithString("category",
			mcp.Description("Only list one category"),
			mcp.Enum(string(engine.CategoryNode), string(engine.CategoryView), string(engine.CategoryDocument)),
		),
	)
}

func commandsHandler(ed Editor) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		category := engine.Category(req.GetString("category", ""))
		s := ed.State()

		var sb strings.Builder
		for _, def := range ed.Registry().List() {
			if category != "" && def.Category != category {
				continue
			}
			fmt.Fprintf(&sb, "%s - %s", def.ID, def.Description)
			if def.Undoable {
				sb.WriteString(" (undoable)")
			}
			if def.When != nil && !def.When(s, nil) {
				sb.WriteString(" (not available now)")
			}
			sb.WriteByte('\n')
			for _, p := range def.Params {
				fmt.Fprintf(&sb, "  %s %s", p.Name, p.Kind)
				if p.Required {
					sb.WriteString(" required")
				}
				if len(p.Enum) > 0 {
					fmt.Fprintf(&sb, " one of %s", strings.Join(p.Enum, "|"))
				}
				if p.Description != "" {
					fmt.Fprintf(&sb, ": %s", p.Description)
				}
				sb.WriteByte('\n')
			}
		}
		if sb.Len() == 0 {
			return mcp.NewToolResultText("No commands."), nil
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// --- helpers ---

func toolError(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}
