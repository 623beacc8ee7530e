package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewJobCmd создаёт группу команд для single-job задач.
func NewJobCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Submit single-job tasks",
	}

	cmd.AddCommand(
		newJobSubmitCmd(clientFn, outputFn),
		newJobAttemptsCmd(clientFn, outputFn),
	)

	return cmd
}

func newJobSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var key string
	var kind string
	var payload string

	cmd := &cobra.Command{
		Use:   "submit ENTITY_ID",
		Short: "Submit a register_listing or update_sourcing_status job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := SubmitRequest{
				Key:      key,
				EntityID: args[0],
				Kind:     kind,
			}
			if payload != "" {
				if !json.Valid([]byte(payload)) {
					return fmt.Errorf("payload is not valid JSON")
				}
				req.Payload = json.RawMessage(payload)
			}

			job, err := client.Submit(req)
			if err != nil {
				return err
			}

			out.Submitted(job)
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Tenant key (required)")
	cmd.Flags().StringVar(&kind, "kind", "", "Task kind (required)")
	cmd.Flags().StringVar(&payload, "payload", "", "Task payload as JSON")
	cmd.MarkFlagRequired("key")
	cmd.MarkFlagRequired("kind")

	return cmd
}

func newJobAttemptsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "attempts ENTITY_ID",
		Short: "List single-job attempts for an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			attempts, err := client.ListAttempts(args[0])
			if err != nil {
				return err
			}

			out.Attempts(attempts)
			return nil
		},
	}
}
