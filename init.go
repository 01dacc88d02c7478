package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phobologic/codeheal/internal/config"
)

const (
	sentinelStart = "<!-- codeheal:start -->"
	sentinelEnd   = "<!-- codeheal:end -->"
)

func (a *app) initCmd() *cobra.Command {
	var (
		force    bool
		dryRun   bool
		agentDoc string
	)
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Long: `Write the default configuration to path (default ./` + config.FileName + `).
An existing file is kept unless --force is given.

With --agent-doc FILE, also write a codeheal usage section to an agent
instructions file such as CLAUDE.md. The section is wrapped in sentinel
comments so later runs update it in place without touching surrounding
content.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.FileName
			if len(args) > 0 {
				path = args[0]
			}
			if err := a.writeConfig(path, force, dryRun); err != nil {
				return err
			}
			if agentDoc != "" {
				return a.writeAgentDoc(agentDoc, dryRun)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what would be written without modifying files")
	cmd.Flags().StringVar(&agentDoc, "agent-doc", "", "also write a usage section to this file (e.g. CLAUDE.md)")
	return cmd
}

func (a *app) writeConfig(path string, force, dryRun bool) error {
	data, err := config.Default().YAML()
	if err != nil {
		return err
	}
	if dryRun {
		_, err := a.stdout.Write(data)
		return err
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.stderr, "wrote default configuration to %s\n", path)
	return nil
}

func (a *app) writeAgentDoc(path string, dryRun bool) error {
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	updated := applySection(string(existing), generateSection())
	if dryRun {
		_, err := fmt.Fprint(a.stdout, updated)
		return err
	}
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	_, _ = fmt.Fprintf(a.stderr, "wrote codeheal section to %s\n", path)
	return nil
}

// generateSection returns the sentinel-wrapped codeheal usage block.
func generateSection() string {
	body := `## codeheal: Code Health

Run ` + "`codeheal scan`" + ` before and after changing Python code. It scores every
function on Care (docstrings), Validation (parameter checks), Resilience
(exception handling) and Observability (logging), and reports the harmony of
the whole tree and its phase (ENTROPIC, HOMEOSTATIC or AUTOPOIETIC).

**Availability:** Check with ` + "`codeheal --version`" + ` first; skip gracefully if
not found.

**Run it:**
` + "```" + `bash
codeheal scan                          # current directory
codeheal scan -n 20 --units            # 20 weakest files with their functions
codeheal scan -f toon                  # compact tabular output
codeheal heal --dry-run                # show the rewrites a session would make
codeheal heal -c 4 --floor care=0.8    # one full rotation, stricter care floor
codeheal history                       # archived sessions
` + "```" + `

**Exit status:** 0 autopoietic, 2 homeostatic or entropic, 3 when files
failed to parse or write, 1 on error.

**How to use the output:**

1. **Start from the deficit.** The ` + "`deficit`" + ` line names the weakest dimension;
   fix that one first.

2. **Work down the file list.** Files are listed weakest first. Use
   ` + "`--units`" + ` to see which functions pull a file down.

3. **Prefer ` + "`heal --dry-run`" + ` over hand edits** for mechanical fixes, then review
   the diff before running without ` + "`--dry-run`" + `.`

	return sentinelStart + "\n" + body + "\n" + sentinelEnd
}

// applySection inserts section into content, replacing an existing sentinel
// block if present or appending if not.
func applySection(content, section string) string {
	start := strings.Index(content, sentinelStart)
	end := strings.Index(content, sentinelEnd)

	if start >= 0 && end > start {
		return content[:start] + section + content[end+len(sentinelEnd):]
	}

	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + "\n" + section + "\n"
}
