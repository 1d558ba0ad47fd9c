// Package main provides the forge-patch command, which applies
// context-anchored multi-file patches to a workspace as one transaction.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// Exit codes
const (
	exitApplied = 0
	exitFailed  = 1
	exitPartial = 2
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	Workspace  string
	ConfigFile string
	Clipboard  bool
	DryRun     bool
	JSON       bool
}

// cli carries the streams and result of one invocation so commands can be
// exercised without a process boundary.
type cli struct {
	config   CLIConfig
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
	exitCode int

	readClipboard func() (string, error)
}

func newCLI(stdin io.Reader, stdout, stderr io.Writer) *cli {
	return &cli{
		stdin:         stdin,
		stdout:        stdout,
		stderr:        stderr,
		readClipboard: clipboard.ReadAll,
	}
}

func main() {
	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	c := newCLI(os.Stdin, os.Stdout, os.Stderr)
	code := c.run(ctx, os.Args[1:])
	cancel()
	os.Exit(code)
}

// run executes the command tree and returns the process exit code.
func (c *cli) run(ctx context.Context, args []string) int {
	root := c.newRootCmd()
	root.SetArgs(args)
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(c.stderr, styleFor(c.stderr, errorStyle).Render("Error: "+err.Error()))
		return exitFailed
	}
	return c.exitCode
}

func (c *cli) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "forge-patch",
		Short: "Apply context-anchored multi-file patches atomically.",
		Long: `Apply patches in the *** Begin Patch / *** End Patch format to a workspace.

Every file section is validated before anything is written. If any section
fails, no file is changed.

Example: pbpaste | forge-patch apply -w ./repo`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	apply := &cobra.Command{
		Use:   "apply [FILE|-]",
		Short: "Apply a patch to the workspace",
		Long: `Apply a patch read from FILE, stdin or the clipboard.

The input may be the raw patch text or an apply_patch tool call in XML form.
Exit code is 0 when the patch applied, 1 when it was rejected and 2 when a
commit failed and the workspace could not be fully restored.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runApply(cmd, args)
		},
	}
	apply.Flags().StringVarP(&c.config.Workspace, "workspace", "w", ".", "Workspace directory")
	apply.Flags().StringVarP(&c.config.ConfigFile, "config", "c", "", "Path to configuration file (YAML)")
	apply.Flags().BoolVar(&c.config.Clipboard, "clipboard", false, "Read the patch from the clipboard")
	apply.Flags().BoolVarP(&c.config.DryRun, "dry-run", "n", false, "Show the diff without writing")
	apply.Flags().BoolVar(&c.config.JSON, "json", false, "Print the result as JSON")

	check := &cobra.Command{
		Use:   "check [FILE|-]",
		Short: "Parse a patch without touching the workspace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runCheck(cmd, args)
		},
	}
	check.Flags().BoolVar(&c.config.Clipboard, "clipboard", false, "Read the patch from the clipboard")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.stdout, "forge-patch v%s\n", version)
		},
	}

	root.AddCommand(apply, check, versionCmd)
	root.SetHelpCommand(&cobra.Command{Hidden: true})
	return root
}
