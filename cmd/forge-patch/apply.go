package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/entrhq/forge-patch/pkg/agent/tools"
	"github.com/entrhq/forge-patch/pkg/config"
	"github.com/entrhq/forge-patch/pkg/logging"
	"github.com/entrhq/forge-patch/pkg/patch"
	"github.com/entrhq/forge-patch/pkg/report"
	"github.com/entrhq/forge-patch/pkg/security/workspace"
	"github.com/entrhq/forge-patch/pkg/tools/coding"
	"github.com/entrhq/forge-patch/pkg/transaction"
)

// jsonResult is the --json rendering of an apply or dry run.
type jsonResult struct {
	Status   string                 `json:"status"`
	Text     string                 `json:"text,omitempty"`
	Diff     string                 `json:"diff,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (c *cli) runApply(cmd *cobra.Command, args []string) error {
	text, err := c.readInput(args)
	if err != nil {
		return err
	}
	req, err := requestFromText(text)
	if err != nil {
		return err
	}

	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()

	tool, err := newTool(cfg, logger)
	if err != nil {
		return err
	}

	logger.Infof("Workspace: %s", cfg.WorkspaceDir)
	if cfg.ConfigFilePath != "" {
		logger.Infof("Config: %s", cfg.ConfigFilePath)
	}

	if c.config.DryRun {
		return c.preview(cmd.Context(), tool, req, cfg.Preview)
	}

	result := tool.Run(cmd.Context(), req)
	c.exitCode = exitCodeFor(result.Observation.Status)

	if c.config.JSON {
		return c.writeJSON(jsonResult{
			Status:   string(result.Observation.Status),
			Text:     result.Observation.Text,
			Metadata: result.Metadata(),
		})
	}
	c.printObservation(result.Observation)
	return nil
}

// preview plans the patch and prints the diff it would produce.
func (c *cli) preview(ctx context.Context, tool *coding.ApplyPatchTool, req coding.ApplyPatchRequest, cfg config.PreviewConfig) error {
	p, err := tool.Preview(ctx, req)
	if err != nil {
		obs := report.FormatError(err)
		c.exitCode = exitFailed
		if c.config.JSON {
			return c.writeJSON(jsonResult{
				Status:   string(obs.Status),
				Text:     obs.Text,
				Metadata: map[string]interface{}{"reason": string(patch.ReasonOf(err))},
			})
		}
		c.printObservation(obs)
		return nil
	}

	if c.config.JSON {
		return c.writeJSON(jsonResult{
			Status:   "planned",
			Text:     p.Description,
			Diff:     p.Content,
			Metadata: p.Metadata,
		})
	}

	fmt.Fprintln(c.stdout, styleFor(c.stdout, headerStyle).Render(p.Title))
	fmt.Fprintln(c.stdout, styleFor(c.stdout, mutedStyle).Render(p.Description))
	fmt.Fprintln(c.stdout)
	return renderDiff(c.stdout, p.Content, cfg)
}

func (c *cli) runCheck(cmd *cobra.Command, args []string) error {
	text, err := c.readInput(args)
	if err != nil {
		return err
	}
	req, err := requestFromText(text)
	if err != nil {
		return err
	}

	doc, err := patch.Parse(req.Patch)
	if err != nil {
		c.exitCode = exitFailed
		c.printObservation(report.FormatError(err))
		return nil
	}

	fmt.Fprintln(c.stdout, styleFor(c.stdout, successStyle).Render(
		fmt.Sprintf("Patch OK: %d operation(s)", len(doc.Operations))))
	for _, op := range doc.Operations {
		fmt.Fprintln(c.stdout, "  "+describeOperation(op))
	}
	return nil
}

// readInput returns the patch input from the clipboard, a file or stdin.
func (c *cli) readInput(args []string) (string, error) {
	if c.config.Clipboard {
		if len(args) > 0 {
			return "", fmt.Errorf("cannot read from both %s and the clipboard", args[0])
		}
		text, err := c.readClipboard()
		if err != nil {
			return "", fmt.Errorf("failed to read clipboard: %w", err)
		}
		return text, nil
	}

	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(c.stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("failed to read patch file: %w", err)
	}
	return string(data), nil
}

// requestFromText accepts either raw patch text or an apply_patch tool call.
func requestFromText(text string) (coding.ApplyPatchRequest, error) {
	var req coding.ApplyPatchRequest
	if !tools.HasToolCall(text) {
		req.Patch = text
		return req, nil
	}

	call, _, err := tools.ParseToolCall(text)
	if err != nil {
		return req, err
	}
	if call.ToolName != "apply_patch" {
		return req, fmt.Errorf("unsupported tool call %q (expected apply_patch)", call.ToolName)
	}
	if err := call.Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}

// loadConfig resolves the configuration: an explicit --config file, or the
// workspace's own config file, or defaults. --workspace always wins.
func (c *cli) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if c.config.ConfigFile == "" {
		return config.Discover(c.config.Workspace)
	}

	cfg, err := config.Load(c.config.ConfigFile)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("workspace") {
		cfg.WorkspaceDir = c.config.Workspace
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseVerbosity(cfg.Verbosity)
	if err != nil {
		return nil, err
	}
	if cfg.Dir != "" {
		logging.SetLogDirectory(cfg.Dir)
	}

	// A logger is always returned; on error it falls back to stderr.
	logger, _ := logging.NewLogger("forge-patch")
	logger.SetLevel(level)
	return logger, nil
}

func newTool(cfg *config.Config, logger *logging.Logger) (*coding.ApplyPatchTool, error) {
	guard, err := workspace.NewGuard(cfg.WorkspaceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace guard: %w", err)
	}

	policy, err := cfg.NewPolicy()
	if err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	coordinator := transaction.NewCoordinator(
		transaction.WithPolicy(policy),
		transaction.WithObserver(logger),
	)
	return coding.NewApplyPatchTool(workspace.NewFS(guard), coordinator), nil
}

func exitCodeFor(status transaction.Status) int {
	switch status {
	case transaction.StatusApplied:
		return exitApplied
	case transaction.StatusPartial:
		return exitPartial
	default:
		return exitFailed
	}
}

func describeOperation(op patch.FileOperation) string {
	switch o := op.(type) {
	case *patch.AddFile:
		return "add    " + o.Path
	case *patch.DeleteFile:
		return "delete " + o.Path
	case *patch.UpdateFile:
		line := fmt.Sprintf("update %s (%d hunk(s))", o.Path, len(o.Hunks))
		if o.MoveTo != "" {
			line += " -> " + o.MoveTo
		}
		return line
	default:
		return strings.ToLower(string(op.Kind())) + " " + op.FilePath()
	}
}

func (c *cli) writeJSON(v jsonResult) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
