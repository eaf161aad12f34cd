package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/vnatgroup/wabridge/internal/config"
	"github.com/vnatgroup/wabridge/internal/directory"
)

func tenantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Inspect and edit the tenant directory",
	}
	cmd.AddCommand(tenantsShowCmd())
	cmd.AddCommand(tenantsBlacklistCmd())
	return cmd
}

func openDirectory() (directory.Directory, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return directory.Open(cfg.Directory)
}

func tenantsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <tenant>",
		Short: "Show a tenant's blacklist and test allowlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := openDirectory()
			if err != nil {
				return err
			}
			defer dir.Close()

			ctx := context.Background()
			tenantID := args[0]

			blacklist, err := dir.Blacklist(ctx, tenantID)
			if err != nil {
				return fmt.Errorf("read blacklist: %w", err)
			}
			testList, err := dir.TestList(ctx, tenantID)
			if err != nil {
				return fmt.Errorf("read test list: %w", err)
			}

			printList("Blacklist", blacklist)
			printList("Test allowlist", testList)
			if len(testList) > 0 {
				fmt.Println("\nTest mode is ON: only listed numbers reach the backend.")
			}
			return nil
		},
	}
}

func tenantsBlacklistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Edit a tenant's blacklist",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <tenant> <user>",
		Short: "Add a user to the tenant's blacklist",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := openDirectory()
			if err != nil {
				return err
			}
			defer dir.Close()

			tenantID, userID := args[0], args[1]
			if err := dir.AppendBlacklist(context.Background(), tenantID, userID); err != nil {
				return fmt.Errorf("append blacklist: %w", err)
			}
			fmt.Printf("blacklisted %s for tenant %s\n", directory.Normalize(userID), directory.Normalize(tenantID))
			return nil
		},
	})
	return cmd
}

func printList(title string, entries []string) {
	width := runewidth.StringWidth(title)
	for _, e := range entries {
		if w := runewidth.StringWidth(e); w > width {
			width = w
		}
	}
	fmt.Println(title)
	fmt.Println(strings.Repeat("-", width))
	if len(entries) == 0 {
		fmt.Println("(empty)")
		return
	}
	for i, e := range entries {
		fmt.Printf("%s  #%d\n", runewidth.FillRight(e, width), i+1)
	}
}
