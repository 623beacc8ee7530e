// Sourcing CLI — инструмент командной строки для рассылки под-задач
// и просмотра состояния обработки через HTTP API.
//
// Использование:
//
//	sourcing [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	entity  Рассылка под-задач и состояние сущностей
//	job     Single-job задачи и их попытки
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Sourcing/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "sourcing",
		Short:         "Sourcing CLI — dispatch and inspect product processing",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := "http://localhost:8080"
	if v := os.Getenv("SOURCING_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewEntityCmd(clientFn, outputFn),
		cli.NewJobCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
