package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadsense/internal/automation"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return err
		}
		fmt.Println("migration complete")
		return nil
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage automation rules",
}

var rulesLoadCmd = &cobra.Command{
	Use:   "load <rules.yaml>",
	Short: "Validate a rules file and load it into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rules, err := automation.LoadRulesFile(args[0])
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if err := st.ReplaceRules(ctx, rules); err != nil {
			return eris.Wrap(err, "rules load")
		}
		fmt.Printf("loaded %d rule(s)\n", len(rules))
		return nil
	},
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check <rules.yaml>",
	Short: "Validate a rules file without loading it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := automation.LoadRulesFile(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d rule(s) ok\n", args[0], len(rules))
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesLoadCmd)
	rulesCmd.AddCommand(rulesCheckCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(rulesCmd)
}
