package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jwink3101/dfb-go/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [cfg]",
	Short: "Write a fresh config template",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := flagConfigPath
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteTemplate(path, initForce); err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("wrote config template to %s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config file")
}
