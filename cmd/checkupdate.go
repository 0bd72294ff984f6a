package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattchengg/fusgo/internal/versionfetch"
)

func checkUpdateCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "checkupdate",
		Short: "Check the latest firmware version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.VersionTimeout)
			defer cancel()

			info, err := versionfetch.New(cfg).Info(ctx, model, region)
			if err != nil {
				return fmt.Errorf("checking update: %w", err)
			}
			if info.Latest.Version == "" {
				return versionfetch.ErrNotFound
			}
			fmt.Println(info.Latest.Version)
			if info.AndroidVersion != "" {
				fmt.Println("Android:", info.AndroidVersion)
			}
			if all {
				for _, u := range info.Upgrade {
					if u.Size > 0 {
						fmt.Printf("  %s (%s)\n", u.Version, formatSize(u.Size))
					} else {
						fmt.Println(" ", u.Version)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "also list the upgrade builds offered by the feed")
	return cmd
}
