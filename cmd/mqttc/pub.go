package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitalvas/mqttv3"
)

func pubCmd(app *cli) *cobra.Command {
	var (
		topic    string
		message  string
		qos      int
		retain   bool
		stdin    bool
		count    int
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "pub",
		Short: "Publish a message",
		Example: `  mqttc pub -t sensors/1/temp -m 21.5 -q 1
  echo '{"on":true}' | mqttc pub -t lights/kitchen --stdin -r`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := mqttv3.ValidateTopicName(topic); err != nil {
				return err
			}
			if !mqttv3.QoS(qos).Valid() {
				return fmt.Errorf("invalid qos %d", qos)
			}
			if count < 1 {
				return fmt.Errorf("count must be positive, got %d", count)
			}

			payload := []byte(message)
			if stdin {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				payload = data
			}

			ctx := cmd.Context()
			client, closeFn, err := app.connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			for i := 0; i < count; i++ {
				if i > 0 && interval > 0 {
					time.Sleep(interval)
				}
				err := client.Publish(ctx, &mqttv3.Message{
					Topic:   topic,
					Payload: payload,
					QoS:     mqttv3.QoS(qos),
					Retain:  retain,
				})
				if err != nil {
					return fmt.Errorf("publish: %w", err)
				}
			}

			return client.Disconnect(ctx)
		},
	}

	cmd.Flags().StringVarP(&topic, "topic", "t", "", "topic to publish to")
	cmd.Flags().StringVarP(&message, "message", "m", "", "message payload")
	cmd.Flags().IntVarP(&qos, "qos", "q", 0, "quality of service (0, 1 or 2)")
	cmd.Flags().BoolVarP(&retain, "retain", "r", false, "ask the broker to retain the message")
	cmd.Flags().BoolVar(&stdin, "stdin", false, "read the payload from standard input")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of times to publish")
	cmd.Flags().DurationVar(&interval, "interval", 0, "delay between repeated publishes")
	cmd.MarkFlagRequired("topic")

	return cmd
}
