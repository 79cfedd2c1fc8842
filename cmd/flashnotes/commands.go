package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
)

func addCommands(rootCmd *cobra.Command, application *app) {
	rootCmd.AddCommand(
		newCreateCommand(application),
		newSaveCommand(application),
		newShowCommand(application),
		newListCommand(application),
		newSearchCommand(application),
		newDeleteCommand(application),
		newArchiveCommand(application),
		newUnarchiveCommand(application),
		newPinCommand(application),
		newReorderCommand(application),
		newCleanupCommand(application),
		newSettingsCommand(application),
		newCountCommand(application),
		newBackupCommand(application),
		newDoctorCommand(application),
		newVacuumCommand(application),
	)
}

func writeJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// contentFrom joins args, or reads stdin when fromStdin is set.
func contentFrom(cmd *cobra.Command, args []string, fromStdin bool) (string, error) {
	if !fromStdin {
		return strings.Join(args, " "), nil
	}
	if len(args) > 0 {
		return "", errors.New("content arguments cannot be combined with --stdin")
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func newCreateCommand(application *app) *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "new [content...]",
		Short: "Create a buffer",
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := contentFrom(cmd, args, fromStdin)
			if err != nil {
				return err
			}
			summary, err := application.engine.Buffers().Create(cmd.Context(), content)
			if err != nil {
				return err
			}
			return writeJSON(cmd, summary)
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read content from stdin")
	return cmd
}

func newSaveCommand(application *app) *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "save <id> [content...]",
		Short: "Replace a buffer's content",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := contentFrom(cmd, args[1:], fromStdin)
			if err != nil {
				return err
			}
			title, preview, err := application.engine.Buffers().Save(cmd.Context(), args[0], content)
			if err != nil {
				return err
			}
			return writeJSON(cmd, map[string]string{"id": args[0], "title": title, "preview": preview})
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read content from stdin")
	return cmd
}

func newShowCommand(application *app) *cobra.Command {
	var (
		outputPath string
		raw        bool
	)
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a buffer and mark it as opened",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buffer, err := application.engine.Buffers().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if outputPath != "" {
				if err := atomic.WriteFile(outputPath, strings.NewReader(buffer.Content)); err != nil {
					return fmt.Errorf("writing %s: %w", outputPath, err)
				}
				return writeJSON(cmd, map[string]any{"id": buffer.ID, "output": outputPath, "bytes": len(buffer.Content)})
			}
			if raw {
				_, err := io.WriteString(cmd.OutOrStdout(), buffer.Content)
				return err
			}
			return writeJSON(cmd, buffer)
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write content to this file atomically")
	cmd.Flags().BoolVar(&raw, "raw", false, "print content only")
	return cmd
}

func newListCommand(application *app) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sidebar entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summaries, err := application.engine.Buffers().ListSidebar(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			return writeJSON(cmd, summaries)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "page size (0 uses sidebar.page_size)")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	return cmd
}

func newSearchCommand(application *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Full-text prefix search over active buffers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := application.engine.Buffers().Search(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd, results)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum results (0 uses search.limit)")
	return cmd
}

func newDeleteCommand(application *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a buffer permanently",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nextID, err := application.engine.Buffers().Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var next *string
			if nextID != "" {
				next = &nextID
			}
			return writeJSON(cmd, map[string]any{"deleted": args[0], "next_id": next})
		},
	}
}

func newArchiveCommand(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "archive <id>",
		Short: "Hide a buffer without deleting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := application.engine.Buffers().Archive(cmd.Context(), args[0]); err != nil {
				return err
			}
			return writeJSON(cmd, map[string]any{"id": args[0], "archived": true})
		},
	}
}

func newUnarchiveCommand(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unarchive <id>",
		Short: "Restore an archived buffer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := application.engine.Buffers().Unarchive(cmd.Context(), args[0]); err != nil {
				return err
			}
			return writeJSON(cmd, map[string]any{"id": args[0], "archived": false})
		},
	}
}

func newPinCommand(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pin <id>",
		Short: "Toggle a buffer's pin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pinned, err := application.engine.Buffers().TogglePin(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd, map[string]any{"id": args[0], "pinned": pinned})
		},
	}
}

func newReorderCommand(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <id...>",
		Short: "Set manual order from the given id sequence",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := application.engine.Buffers().Reorder(cmd.Context(), args); err != nil {
				return err
			}
			return writeJSON(cmd, map[string]any{"reordered": len(args)})
		},
	}
}

func newCleanupCommand(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete active buffers with blank content",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := application.engine.Buffers().CleanupEmpty(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd, map[string]int64{"removed": removed})
		},
	}
}

func newSettingsCommand(application *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := application.engine.Settings().GetAll(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd, values)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := application.engine.Settings().Set(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			return writeJSON(cmd, map[string]string{"key": args[0], "value": args[1]})
		},
	})
	return cmd
}

func newCountCommand(application *app) *cobra.Command {
	var includeArchived bool
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count buffers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := application.engine.Buffers().Count(cmd.Context(), includeArchived)
			if err != nil {
				return err
			}
			return writeJSON(cmd, map[string]int64{"count": count})
		},
	}
	cmd.Flags().BoolVar(&includeArchived, "all", false, "include archived buffers")
	return cmd
}

func newBackupCommand(application *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Take a backup now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := application.engine.Backup(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd, snapshot)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List rotation backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshots, err := application.engine.Backups()
			if err != nil {
				return err
			}
			return writeJSON(cmd, snapshots)
		},
	})
	return cmd
}

func newDoctorCommand(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run an integrity check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			problems, err := application.engine.CheckIntegrity(cmd.Context())
			if err != nil {
				return err
			}
			if err := writeJSON(cmd, map[string]any{
				"database": application.engine.DatabasePath(),
				"ok":       len(problems) == 0,
				"problems": problems,
			}); err != nil {
				return err
			}
			if len(problems) > 0 {
				return fmt.Errorf("integrity check reported %d problem(s)", len(problems))
			}
			return nil
		},
	}
}

func newVacuumCommand(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Rebuild the database file to reclaim space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := application.engine.Vacuum(cmd.Context()); err != nil {
				return err
			}
			return writeJSON(cmd, map[string]bool{"vacuumed": true})
		},
	}
}
