package badgeros

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("badgeros version %s\n", Version)
		fmt.Printf("spec version: %s\n", SpecVer)
		fmt.Printf("build time: %s\n", BuildTime)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
