package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "Inspect or mutate persisted session flags",
}

var flagsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the value of a flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		value, ok, err := s.GetFlag(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("(unset)")
			return nil
		}
		fmt.Println(value)
		return nil
	},
}

var flagsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a flag's value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		return s.SetFlag(cmd.Context(), args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(flagsCmd)
	flagsCmd.AddCommand(flagsGetCmd, flagsSetCmd)
}
