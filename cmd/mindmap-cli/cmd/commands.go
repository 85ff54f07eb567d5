package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mindmap/internal/application"
)

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List the editor commands",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, def := range GetSession().Engine.Registry().List() {
			fmt.Printf("%-20s %s\n", def.ID, def.Description)
			for _, p := range def.Params {
				req := ""
				if p.Required {
					req = " (required)"
				}
				fmt.Printf("  %s=<%s>%s\n", p.Name, p.Kind, req)
			}
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <command> [name=value ...]",
	Short: "Dispatch any editor command",
	Long: `Dispatch an editor command by ID. Parameters are given as name=value
pairs and converted to the type the command declares.

Examples:
  mindmap-cli run node.add_child parentId=3f2a9c1e title="Flights"
  mindmap-cli run view.collapse nodeId=3f2a9c1e`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, ok := GetSession().Engine.Registry().Lookup(args[0])
		if !ok {
			return fmt.Errorf("%w: %s", application.ErrUnknownCommand, args[0])
		}

		kinds := make(map[string]application.ParamKind, len(def.Params))
		for _, p := range def.Params {
			kinds[p.Name] = p.Kind
		}
		params, err := parseParams(args[1:], kinds)
		if err != nil {
			return err
		}
		return dispatch(context.Background(), def.ID, params)
	},
}

// parseParams converts name=value pairs; unknown names stay strings and are
// rejected by validation
func parseParams(pairs []string, kinds map[string]application.ParamKind) (application.Params, error) {
	params := make(application.Params, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, &application.ValidationError{Field: pair, Message: "expected name=value"}
		}
		switch kinds[name] {
		case application.ParamInt:
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, &application.ValidationError{Field: name, Message: "must be a number, got: " + value}
			}
			params[name] = n
		case application.ParamBool:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, &application.ValidationError{Field: name, Message: "must be true or false, got: " + value}
			}
			params[name] = b
		default:
			params[name] = value
		}
	}
	return params, nil
}

// dispatch runs a command, waits for it to reach the local store and
// prints the resulting tree position
func dispatch(ctx context.Context, commandID string, params application.Params) error {
	s := GetSession()
	if err := s.Engine.Dispatch(ctx, commandID, params); err != nil {
		return err
	}
	if err := s.Engine.Flush(ctx); err != nil {
		return err
	}

	state := s.Engine.State()
	if n, ok := state.Node(state.CurrentNodeID()); ok {
		fmt.Printf("%s done, current node: %s %s\n", commandID, n.ShortID, n.Title)
	} else {
		fmt.Printf("%s done\n", commandID)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(commandsCmd)
	rootCmd.AddCommand(runCmd)
}
