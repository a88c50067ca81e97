package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/hilci/internal/common"
)

var newTokenCmd = &cobra.Command{
	Use:   "new-token <name>",
	Short: "Generate and persist a new bearer token under the given name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := resolveConfigPath()
		cfg, err := common.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		token, err := common.GenerateToken()
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		if err := cfg.AddToken(path, args[0], token); err != nil {
			return fmt.Errorf("save token: %w", err)
		}

		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(newTokenCmd)
}
