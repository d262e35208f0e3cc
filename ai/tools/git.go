package tools

import (
	"context"

	"github.com/pkg/errors"
)

func (r *Registry) registerGitTools() {
	r.register(Definition{
		ToolID:       "git_status",
		Description:  "Show the short branch status of the repository root.",
		InputSchema:  map[string]any{"type": "object", "properties": map[string]any{}},
		OutputSchema: subprocessOutputSchema(),
	}, gitStatus)

	r.register(Definition{
		ToolID:      "git_diff",
		Description: "Show the working tree diff, optionally staged or limited to a path.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"staged": map[string]any{"type": "boolean"},
				"path":   map[string]any{"type": "string"},
			},
		},
		OutputSchema: subprocessOutputSchema(),
	}, gitDiff)

	r.register(Definition{
		ToolID:      "git_show",
		Description: "Show a commit or object, defaulting to HEAD.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"ref": map[string]any{"type": "string"},
			},
		},
		OutputSchema: subprocessOutputSchema(),
	}, gitShow)

	r.register(Definition{
		ToolID:      "apply_patch",
		Description: "Apply a unified diff to the repository via git apply.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"patch": map[string]any{"type": "string"},
			},
			"required": []string{"patch"},
		},
		OutputSchema:         subprocessOutputSchema(),
		RequiresConfirmation: true,
	}, applyPatch)
}

func gitStatus(ctx context.Context, rt *Context, _ map[string]any) (map[string]any, error) {
	return runSubprocess(ctx, rt, []string{"git", "-C", rt.RepoRoot, "status", "-sb"}, "")
}

func gitDiff(ctx context.Context, rt *Context, input map[string]any) (map[string]any, error) {
	argv := []string{"git", "-C", rt.RepoRoot, "diff"}
	if boolArg(input, "staged") {
		argv = append(argv, "--staged")
	}
	if path := stringArg(input, "path"); path != "" {
		resolved, err := rt.ResolvePath(path)
		if err != nil {
			return nil, err
		}
		argv = append(argv, "--", resolved)
	}
	return runSubprocess(ctx, rt, argv, "")
}

func gitShow(ctx context.Context, rt *Context, input map[string]any) (map[string]any, error) {
	ref := stringArg(input, "ref")
	if ref == "" {
		ref = "HEAD"
	}
	return runSubprocess(ctx, rt, []string{"git", "-C", rt.RepoRoot, "show", ref}, "")
}

func applyPatch(ctx context.Context, rt *Context, input map[string]any) (map[string]any, error) {
	patch := stringArg(input, "patch")
	if patch == "" {
		return nil, errors.New("patch is required")
	}
	return runSubprocess(ctx, rt,
		[]string{"git", "-C", rt.RepoRoot, "apply", "--whitespace=nowarn", "-"}, patch)
}
