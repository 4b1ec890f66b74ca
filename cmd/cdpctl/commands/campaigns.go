package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sumanism/ECA2/internal/store"
)

var campaignsStatusFilter string

var campaignsCmd = &cobra.Command{
	Use:     "campaigns",
	Aliases: []string{"campaign"},
	Short:   "Inspect and run campaigns",
}

var campaignsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all campaigns",
	Long: `List all campaigns.

Examples:
  cdpctl campaigns list
  cdpctl campaigns list --status active`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if campaignsStatusFilter != "" && !store.ValidCampaignStatus(campaignsStatusFilter) {
			return fmt.Errorf("invalid status %q", campaignsStatusFilter)
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		list, err := c.ListCampaigns(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list campaigns: %w", err)
		}

		if campaignsStatusFilter != "" {
			var filtered []store.Campaign
			for _, camp := range list {
				if camp.Status == campaignsStatusFilter {
					filtered = append(filtered, camp)
				}
			}
			list = filtered
		}

		if len(list) == 0 && !quiet {
			fmt.Fprintln(cmd.OutOrStdout(), "No campaigns found")
			return nil
		}
		return printer(cmd).Campaigns(list)
	},
}

var campaignsStatusCmd = &cobra.Command{
	Use:   "status <id> <draft|active|paused|completed>",
	Short: "Change a campaign's status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !store.ValidCampaignStatus(args[1]) {
			return fmt.Errorf("invalid status %q", args[1])
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		camp, err := c.SetCampaignStatus(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to update campaign: %w", err)
		}
		return printer(cmd).Campaigns([]store.Campaign{*camp})
	},
}

var campaignsExecuteCmd = &cobra.Command{
	Use:   "execute <id>",
	Short: "Select the audience of an active campaign",
	Long: `Resolve the audience of an active campaign and schedule it.

Examples:
  cdpctl campaigns execute 9a41... --api-key $CDP_API_KEY`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		sel, err := c.ExecuteCampaign(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to execute campaign: %w", err)
		}
		return printer(cmd).Selection(sel)
	},
}

func init() {
	rootCmd.AddCommand(campaignsCmd)
	campaignsCmd.AddCommand(campaignsListCmd, campaignsStatusCmd, campaignsExecuteCmd)

	campaignsListCmd.Flags().StringVar(&campaignsStatusFilter, "status", "", "Show only campaigns with this status")
}
