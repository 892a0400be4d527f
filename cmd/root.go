package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var BuildVersion = "dev"

var rootCmd = &cobra.Command{
	Use:           "openauth",
	Short:         "OpenAuth token introspection CLI",
	Long:          "CLI for introspecting OpenAuth access tokens and managing the token store schema.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of OpenAuth CLI",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", BuildVersion)
		},
	})
}

func Execute() error {
	return rootCmd.Execute()
}

func lookupEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// firstNonEmpty returns the flag value, else the first set environment
// variable among keys.
func firstNonEmpty(flagValue string, keys ...string) string {
	if value := strings.TrimSpace(flagValue); value != "" {
		return value
	}
	for _, key := range keys {
		if value := lookupEnv(key); value != "" {
			return value
		}
	}
	return ""
}
