package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewEntityCmd создаёт группу команд для fan-in сущностей.
func NewEntityCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Dispatch and inspect entities",
	}

	cmd.AddCommand(
		newEntityDispatchCmd(clientFn, outputFn),
		newEntityShowCmd(clientFn, outputFn),
		newEntityErrorsCmd(clientFn, outputFn),
	)

	return cmd
}

func newEntityDispatchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var key string
	var tasksFile string
	var force bool

	cmd := &cobra.Command{
		Use:   "dispatch ENTITY_ID",
		Short: "Dispatch sub-tasks for an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tasks, err := readTasks(tasksFile, cmd.InOrStdin())
			if err != nil {
				return err
			}

			result, err := client.Dispatch(DispatchRequest{
				Key:      key,
				EntityID: args[0],
				Tasks:    tasks,
				Force:    force,
			})
			if err != nil {
				return err
			}

			out.Dispatched(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Tenant key (required)")
	cmd.Flags().StringVar(&tasksFile, "tasks-file", "", "Path to JSON array of tasks, '-' for stdin (required)")
	cmd.Flags().BoolVar(&force, "force", false, "Reset counters of an entity stuck in PENDING")
	cmd.MarkFlagRequired("key")
	cmd.MarkFlagRequired("tasks-file")

	return cmd
}

func newEntityShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ENTITY_ID",
		Short: "Show entity processing state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			entity, err := client.GetEntity(args[0])
			if err != nil {
				return err
			}

			out.Entity(entity)
			return nil
		},
	}
}

func newEntityErrorsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "errors ENTITY_ID",
		Short: "List recorded sub-task failures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			records, err := client.ListErrors(args[0])
			if err != nil {
				return err
			}

			out.ErrorRecords(records)
			return nil
		},
	}
}

// readTasks читает JSON-массив задач из файла или stdin.
func readTasks(path string, stdin io.Reader) ([]TaskRequest, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks: %w", err)
	}

	var tasks []TaskRequest
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("tasks file is not a valid JSON array: %w", err)
	}
	return tasks, nil
}
