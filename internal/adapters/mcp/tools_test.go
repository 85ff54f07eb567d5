package mcp

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"mindmap/internal/adapters/sqlite"
	"mindmap/internal/application"
	"mindmap/internal/application/commands"
	"mindmap/internal/application/engine"
	"mindmap/internal/application/reconcile"
	"mindmap/internal/domain"
)

func newEditor(t *testing.T) *engine.Engine {
	t.Helper()
	store := sqlite.NewStore()
	if err := store.Open(filepath.Join(t.TempDir(), "mcp.db")); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	state := domain.NewEditorState("m1", []domain.Node{
		{ShortID: "root", MindmapID: "m1", Title: "Trip"},
		{ShortID: "a", MindmapID: "m1", ParentShortID: "root", OrderIndex: 0, Title: "Flights"},
		{ShortID: "b", MindmapID: "m1", ParentShortID: "root", OrderIndex: 1, Title: "Hotels"},
	})
	e := engine.New(store, state, engine.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err := commands.Register(e.Registry(), commands.DefaultGenerator()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func call(t *testing.T, h server.ToolHandlerFunc, args map[string]any) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned a protocol error: %v", err)
	}
	if len(res.Content) == 0 {
		t.Fatal("empty result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content %T", res.Content[0])
	}
	return text.Text, res.IsError
}

func TestTree(t *testing.T) {
	e := newEditor(t)

	out, isErr := call(t, treeHandler(e), nil)
	if isErr {
		t.Fatal(out)
	}
	want := "[root] Trip *\n  [a] Flights\n  [b] Hotels\n"
	if out != want {
		t.Errorf("tree =\n%s\nexpected\n%s", out, want)
	}

	if err := e.Dispatch(context.Background(), "view.collapse", application.Params{"nodeId": "root"}); err != nil {
		t.Fatal(err)
	}
	out, _ = call(t, treeHandler(e), nil)
	if out != "[root] Trip * (+2 hidden)\n" {
		t.Errorf("collapsed tree = %q", out)
	}
	out, _ = call(t, treeHandler(e), map[string]any{"expand_all": true})
	if !strings.Contains(out, "[b] Hotels") {
		t.Errorf("expand_all did not show hidden children: %q", out)
	}

	if _, isErr := call(t, treeHandler(e), map[string]any{"node_id": "ghost"}); !isErr {
		t.Error("expected an error for a missing subtree root")
	}
}

func TestNode(t *testing.T) {
	e := newEditor(t)

	out, isErr := call(t, nodeHandler(e), map[string]any{"node_id": "b"})
	if isErr {
		t.Fatal(out)
	}
	for _, want := range []string{"Title: Hotels", "Parent: root", "Position: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("node output missing %q:\n%s", want, out)
		}
	}

	out, _ = call(t, nodeHandler(e), nil)
	if !strings.Contains(out, "Parent: (root)") || !strings.Contains(out, "[a] Flights") {
		t.Errorf("current node output:\n%s", out)
	}
}

func TestCommands(t *testing.T) {
	e := newEditor(t)

	out, _ := call(t, commandsHandler(e), map[string]any{"category": "view"})
	if strings.Contains(out, "node.add_child") {
		t.Error("category filter ignored")
	}
	if !strings.Contains(out, "view.select ") || !strings.Contains(out, "nodeId string required") {
		t.Errorf("missing view.select schema:\n%s", out)
	}
}

func TestDispatchUndoRedo(t *testing.T) {
	e := newEditor(t)

	out, isErr := call(t, dispatchHandler(e), map[string]any{
		"command": "node.add_child",
		"params":  map[string]any{"parentId": "a", "title": "Outbound"},
	})
	if isErr {
		t.Fatal(out)
	}
	if !strings.Contains(out, `Add child to "Flights"`) || !strings.Contains(out, "Outbound") {
		t.Errorf("unexpected summary %q", out)
	}
	if len(e.State().Children("a")) != 1 {
		t.Fatal("child not added")
	}

	out, _ = call(t, undoHandler(e), nil)
	if out != `Undid: Add child to "Flights"` {
		t.Errorf("undo = %q", out)
	}
	if len(e.State().Children("a")) != 0 {
		t.Error("undo did not remove the child")
	}
	out, _ = call(t, redoHandler(e), nil)
	if !strings.HasPrefix(out, "Redid:") || len(e.State().Children("a")) != 1 {
		t.Errorf("redo = %q", out)
	}
	out, _ = call(t, redoHandler(e), nil)
	if out != "Nothing to redo." {
		t.Errorf("second redo = %q", out)
	}

	tests := []struct {
		name string
		args map[string]any
	}{
		{name: "missing command", args: map[string]any{}},
		{name: "unknown command", args: map[string]any{"command": "node.explode"}},
		{name: "params not an object", args: map[string]any{"command": "node.delete", "params": "b"}},
		{name: "invalid params", args: map[string]any{"command": "node.move", "params": map[string]any{"nodeId": "a"}}},
		{name: "root delete", args: map[string]any{"command": "node.delete", "params": map[string]any{"nodeId": "root"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if out, isErr := call(t, dispatchHandler(e), tt.args); !isErr {
				t.Errorf("expected tool error, got %q", out)
			}
		})
	}
}

func TestBatch(t *testing.T) {
	e := newEditor(t)

	out, isErr := call(t, batchHandler(e), map[string]any{
		"description": "Plan hotels",
		"steps": []any{
			map[string]any{"command": "node.add_child", "params": map[string]any{"parentId": "b", "title": "Rome"}},
			map[string]any{"command": "node.add_sibling", "params": map[string]any{"title": "Florence"}},
		},
	})
	if isErr {
		t.Fatal(out)
	}
	if got := len(e.State().Children("b")); got != 2 {
		t.Fatalf("expected 2 hotels, got %d", got)
	}
	if e.UndoDescription() != "Plan hotels" {
		t.Errorf("undo label = %q", e.UndoDescription())
	}
	_ = e.Undo(context.Background())
	if got := len(e.State().Children("b")); got != 0 {
		t.Errorf("one undo should revert the batch, %d children left", got)
	}

	_, isErr = call(t, batchHandler(e), map[string]any{
		"description": "Broken",
		"steps": []any{
			map[string]any{"command": "node.add_child", "params": map[string]any{"parentId": "b", "title": "Rome"}},
			map[string]any{"command": "node.delete", "params": map[string]any{"nodeId": "root"}},
		},
	})
	if !isErr {
		t.Error("expected the batch to fail")
	}
	if got := len(e.State().Children("b")); got != 0 {
		t.Errorf("failed batch must not apply earlier steps, got %d children", got)
	}

	for _, args := range []map[string]any{
		{"steps": []any{map[string]any{"command": "node.add_child"}}},
		{"description": "x", "steps": []any{}},
		{"description": "x", "steps": []any{"node.add_child"}},
		{"description": "x", "steps": []any{map[string]any{"command": "view.select", "params": map[string]any{"nodeId": "a"}}}},
	} {
		if out, isErr := call(t, batchHandler(e), args); !isErr {
			t.Errorf("expected error for %v, got %q", args, out)
		}
	}
}

func TestSave(t *testing.T) {
	var got application.Resolution
	save := func(_ context.Context, r application.Resolution) (*reconcile.Result, error) {
		got = r
		if r == application.ResolutionNone {
			return nil, &application.ConflictError{
				MindmapID:     "m1",
				LocalVersion:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				ServerVersion: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
				DirtyCount:    3,
			}
		}
		return &reconcile.Result{Message: "Saved 3 changed and 0 deleted nodes"}, nil
	}

	out, isErr := call(t, saveHandler(save), nil)
	if !isErr || !strings.Contains(out, "force, discard or cancel") || !strings.Contains(out, "3 local changes") {
		t.Errorf("conflict output %q", out)
	}

	out, isErr = call(t, saveHandler(save), map[string]any{"resolution": "force"})
	if isErr || got != application.ResolutionForce || !strings.HasPrefix(out, "Saved 3") {
		t.Errorf("forced save: %q (resolution %q)", out, got)
	}
}
