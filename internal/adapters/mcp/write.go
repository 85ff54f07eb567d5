package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"mindmap/internal/application"
	"mindmap/internal/application/engine"
	"mindmap/internal/application/reconcile"
)

// SaveFunc runs the save protocol for the open mindmap
type SaveFunc func(ctx context.Context, resolution application.Resolution) (*reconcile.Result, error)

// RegisterWriteTools adds the editing tools to the MCP server.
func RegisterWriteTools(s *server.MCPServer, ed Editor, save SaveFunc) {
	s.AddTool(dispatchTool(), dispatchHandler(ed))
	s.AddTool(batchTool(), batchHandler(ed))
	s.AddTool(undoTool(), undoHandler(ed))
	s.AddTool(redoTool(), redoHandler(ed))
	s.AddTool(saveTool(), saveHandler(save))
}

// --- dispatch ---

func dispatchTool() mcp.Tool {
	return mcp.NewTool("dispatch",
		mcp.WithDescription("Run one editor command. Use the commands tool to list command IDs and their parameters. Most node commands act on the current node when nodeId is omitted, and adding a node selects it."),
		mcp.WithString("command",
			mcp.Description("Command ID (e.g. node.add_child)"),
			mcp.Required(),
		),
		mcp.WithObject("params",
			mcp.Description("Command parameters by name"),
		),
	)
}

func dispatchHandler(ed Editor) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		commandID := req.GetString("command", "")
		if commandID == "" {
			return toolError(fmt.Errorf("command is required"))
		}
		params, err := objectArg(req.GetArguments(), "params")
		if err != nil {
			return toolError(err)
		}

		before := ed.UndoDescription()
		if err := ed.Dispatch(ctx, commandID, params); err != nil {
			return toolError(err)
		}
		return mcp.NewToolResultText(summary(ed, before, commandID)), nil
	}
}

// --- batch ---

func batchTool() mcp.Tool {
	return mcp.NewTool("batch",
		mcp.WithDescription("Run several undoable commands as one change. Steps run in order, each seeing the result of the previous one; if any step fails nothing is applied. A single undo reverts the whole batch."),
		mcp.WithString("description",
			mcp.Description("Label shown for undo"),
			mcp.Required(),
		),
		mcp.WithArray("steps",
			mcp.Description("Steps as objects with a command ID and optional params"),
			mcp.Required(),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{"type": "string"},
					"params":  map[string]any{"type": "object"},
				},
				"required": []string{"command"},
			}),
		),
	)
}

func batchHandler(ed Editor) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		description := req.GetString("description", "")
		if strings.TrimSpace(description) == "" {
			return toolError(fmt.Errorf("description is required"))
		}
		steps, err := stepsArg(req.GetArguments())
		if err != nil {
			return toolError(err)
		}

		if err := ed.DispatchComposite(ctx, description, steps...); err != nil {
			return toolError(err)
		}
		return mcp.NewToolResultText(fmt.Sprintf("Applied %d steps as %q. Current node: %s", len(steps), description, ed.State().CurrentNodeID())), nil
	}
}

func stepsArg(args map[string]any) ([]engine.Step, error) {
	raw, ok := args["steps"].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("steps must be a non-empty array")
	}

	steps := make([]engine.Step, 0, len(raw))
	for i, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("step %d must be an object", i)
		}
		id, _ := obj["command"].(string)
		if id == "" {
			return nil, fmt.Errorf("step %d: command is required", i)
		}
		params, err := objectArg(obj, "params")
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, engine.Step{CommandID: id, Params: params})
	}
	return steps, nil
}

func objectArg(args map[string]any, name string) (application.Params, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an object", name)
	}
	return application.Params(obj), nil
}

// --- undo / redo ---

func undoTool() mcp.Tool {
	return mcp.NewTool("undo",
		mcp.WithDescription("Reverse the latest undoable change."),
	)
}

func undoHandler(ed Editor) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		label := ed.UndoDescription()
		if label == "" {
			return mcp.NewToolResultText("Nothing to undo."), nil
		}
		if err := ed.Undo(ctx); err != nil {
			return toolError(err)
		}
		return mcp.NewToolResultText("Undid: " + label), nil
	}
}

func redoTool() mcp.Tool {
	return mcp.NewTool("redo",
		mcp.WithDescription("Replay the latest undone change."),
	)
}

func redoHandler(ed Editor) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		label := ed.RedoDescription()
		if label == "" {
			return mcp.NewToolResultText("Nothing to redo."), nil
		}
		if err := ed.Redo(ctx); err != nil {
			return toolError(err)
		}
		return mcp.NewToolResultText("Redid: " + label), nil
	}
}

// --- save ---

func saveTool() mcp.Tool {
	return mcp.NewTool("save",
		mcp.WithDescription("Upload local changes to the remote copy. If the remote changed since the last sync the save stops with a conflict: ask the user which resolution to use before retrying."),
		mcp.WithString("resolution",
			mcp.Description("Only after a conflict, as chosen by the user: force uploads anyway, discard drops local changes, cancel keeps them unsaved"),
			mcp.Enum(application.Resolutions()...),
		),
	)
}

func saveHandler(save SaveFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resolution := application.Resolution(req.GetString("resolution", ""))

		res, err := save(ctx, resolution)
		var conflict *application.ConflictError
		if errors.As(err, &conflict) {
			return mcp.NewToolResultError(fmt.Sprintf(
				"Conflict: the remote copy changed at %s, after this replica last synced (%s). %d local changes are unsaved. "+
					"Ask the user to choose a resolution: force, discard or cancel.",
				conflict.ServerVersion.Format("2006-01-02 15:04:05"),
				conflict.LocalVersion.Format("2006-01-02 15:04:05"),
				conflict.DirtyCount)), nil
		}
		if err != nil {
			return toolError(err)
		}
		return mcp.NewToolResultText(res.Message), nil
	}
}

// summary describes the outcome of a dispatch for the caller
func summary(ed Editor, undoBefore, commandID string) string {
	s := ed.State()
	current := s.CurrentNodeID()
	label := current
	if n, ok := s.Node(current); ok {
		label = fmt.Sprintf("[%s] %s", n.ShortID, n.Title)
	}

	if after := ed.UndoDescription(); after != undoBefore && after != "" {
		return fmt.Sprintf("%s. Current node: %s", after, label)
	}
	return fmt.Sprintf("%s done. Current node: %s", commandID, label)
}
