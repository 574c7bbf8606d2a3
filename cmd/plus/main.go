package main

import (
	"fmt"
	"os"

	"github.com/Carrie-PLH/plus/internal/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Load env if it exists
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "plus",
		Short:         "PatientLead+ tool gateway",
		Version:       server.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "path to the YAML config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(catalogCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
