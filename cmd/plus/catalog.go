package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/Carrie-PLH/plus/internal/catalog"
	"github.com/Carrie-PLH/plus/internal/config"
	"github.com/spf13/cobra"
)

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the tier catalog",
	}
	cmd.PersistentFlags().String("file", "", "catalog file (defaults to the configured or embedded catalog)")

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the catalog for dangling or unreachable tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalog ok: %d tools, %d tiers, default %q\n",
				len(c.AllTools()), len(c.Tiers), c.DefaultTierName)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "tiers",
		Short: "List tiers by price",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			printTiers(cmd, c)
			return nil
		},
	})

	return cmd
}

// loadCatalog prefers --file, then the config's catalog path.
func loadCatalog(cmd *cobra.Command) (*catalog.Catalog, error) {
	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		path = cfg.Access.CatalogPath
	}
	return catalog.Load(path)
}

func printTiers(cmd *cobra.Command, c *catalog.Catalog) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPRICE\tTOOLS\tHOURLY\tDAILY\tMONTHLY\tCOMPLEX")
	for _, t := range c.TiersByPrice() {
		tools := strconv.Itoa(len(c.ToolsForTier(t.Name)))
		if t.Tools.All {
			tools = "all"
		}
		name := t.Name
		if t.Legacy {
			name += " (legacy)"
		}
		fmt.Fprintf(w, "%s\t$%d\t%s\t%s\t%s\t%s\t%s\n", name, t.Price, tools,
			limit(t.Limits.Hourly), limit(t.Limits.Daily), limit(t.Limits.Monthly), limit(t.Limits.ComplexDaily))
	}
	w.Flush()
}

func limit(n int) string {
	if n == catalog.Unlimited {
		return "-"
	}
	return strconv.Itoa(n)
}
