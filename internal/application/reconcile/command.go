package reconcile

import (
	"context"

	"mindmap/internal/application"
	"mindmap/internal/application/actions"
	"mindmap/internal/application/engine"
	"mindmap/internal/domain"
)

// SaveDefinition returns the document.save command. It is imperative and
// never enters history. onResult, when set, receives every successful result.
func SaveDefinition(p *Protocol, editor Editor, onResult func(*Result)) *engine.Definition {
	return &engine.Definition{
		ID:          "document.save",
		Category:    engine.CategoryDocument,
		Description: "Upload local changes to the remote copy",
		Params: []application.ParamSpec{
			{
				Name:        "resolution",
				Kind:        application.ParamString,
				Enum:        application.Resolutions(),
				Description: "How to resolve a conflict: force, discard or cancel",
			},
		},
		Handler: func(ctx context.Context, s *domain.EditorState, params application.Params) ([]actions.Action, error) {
			res, err := p.Save(ctx, editor, s.MindmapID(), application.Resolution(params.String("resolution")))
			if err != nil {
				return nil, err
			}
			if onResult != nil {
				onResult(res)
			}
			return nil, nil
		},
	}
}
