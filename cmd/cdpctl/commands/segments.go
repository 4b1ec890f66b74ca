package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var segmentUsersLimit int

var segmentsCmd = &cobra.Command{
	Use:     "segments",
	Aliases: []string{"segment", "seg"},
	Short:   "Inspect segments",
}

var segmentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all segments",
	Long: `List all segments with their definitions.

Examples:
  cdpctl segments list --env prod
  cdpctl segments list --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		segs, err := c.ListSegments(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list segments: %w", err)
		}
		if len(segs) == 0 && !quiet {
			fmt.Fprintln(cmd.OutOrStdout(), "No segments found")
			return nil
		}
		return printer(cmd).Segments(segs)
	},
}

var segmentsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Get a segment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		seg, err := c.GetSegment(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get segment: %w", err)
		}
		return printer(cmd).Segment(seg)
	},
}

var segmentsCountCmd = &cobra.Command{
	Use:   "count <id>",
	Short: "Count users matching a segment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		n, err := c.SegmentCount(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to count segment: %w", err)
		}
		return printer(cmd).Value(map[string]any{"segment_id": args[0], "count": n})
	},
}

var segmentsUsersCmd = &cobra.Command{
	Use:   "users <id>",
	Short: "List users matching a segment",
	Long: `List users matching a segment. Besides name and email the table shows
the first field the segment filters on.

Examples:
  cdpctl segments users 2f7c... --limit 20`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		page, err := c.SegmentUsers(cmd.Context(), args[0], segmentUsersLimit)
		if err != nil {
			return fmt.Errorf("failed to list segment users: %w", err)
		}
		return printer(cmd).SegmentUsers(page.SegmentID, page.TotalCount, page.Columns, page.Users)
	},
}

var segmentsEvaluateCmd = &cobra.Command{
	Use:   "evaluate <id>",
	Short: "Explain how a segment evaluates",
	Long: `Evaluate a segment and show how many users passed each criterion,
plus any normalization issues.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		report, err := c.EvaluateSegment(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to evaluate segment: %w", err)
		}
		return printer(cmd).Report(report)
	},
}

func init() {
	rootCmd.AddCommand(segmentsCmd)
	segmentsCmd.AddCommand(segmentsListCmd, segmentsGetCmd, segmentsCountCmd, segmentsUsersCmd, segmentsEvaluateCmd)

	segmentsUsersCmd.Flags().IntVar(&segmentUsersLimit, "limit", 0, "Maximum users to return (server default when 0)")
}
