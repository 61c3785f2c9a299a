package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/vitalvas/mqttv3"
	"github.com/vitalvas/mqttv3/extensions/router"
)

func subCmd(app *cli) *cobra.Command {
	var (
		topics   []string
		qos      int
		verbose  bool
		count    int
		match    string
		noRetain bool
	)

	cmd := &cobra.Command{
		Use:   "sub",
		Short: "Subscribe to topic filters and print received messages",
		Example: `  mqttc sub -t 'sensors/+/temp' -q 1 -v
  mqttc sub -t '#' -n 10
  mqttc sub -t 'alerts/#' --match '^critical' --no-retained`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(topics) == 0 {
				return errors.New("at least one topic filter is required")
			}
			for _, topic := range topics {
				if err := mqttv3.ValidateTopicFilter(topic); err != nil {
					return err
				}
			}
			if !mqttv3.QoS(qos).Valid() {
				return fmt.Errorf("invalid qos %d", qos)
			}

			var conds []router.ConditionOption
			if match != "" {
				re, err := regexp.Compile(match)
				if err != nil {
					return fmt.Errorf("invalid --match: %w", err)
				}
				conds = append(conds, router.WithPayload(re))
			}
			if noRetain {
				conds = append(conds, router.WithRetain(false))
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// Subscriptions carry no handler so that a message matching
			// several filters is printed once.
			var received atomic.Int64
			r := router.New()
			r.Handle(func(msg *mqttv3.Message) {
				printMessage(cmd.OutOrStdout(), msg, verbose)
				if count > 0 && received.Add(1) >= int64(count) {
					cancel()
				}
			}, conds...)

			client, closeFn, err := app.connect(ctx, cmd,
				mqttv3.WithAutoReconnect(true),
				mqttv3.OnMessage(r.MessageHandler()),
			)
			if err != nil {
				return err
			}
			defer closeFn()

			subs := make([]mqttv3.Subscription, len(topics))
			for i, topic := range topics {
				subs[i] = mqttv3.Subscription{TopicFilter: topic, QoS: mqttv3.QoS(qos)}
			}
			if _, err := client.SubscribeMultiple(ctx, subs, nil); err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}

			<-ctx.Done()

			if cmd.Context().Err() != nil {
				fmt.Fprintln(os.Stderr, "interrupted")
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&topics, "topic", "t", nil, "topic filter to subscribe to (repeatable)")
	cmd.Flags().IntVarP(&qos, "qos", "q", 0, "maximum quality of service (0, 1 or 2)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the topic before each payload")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many messages (0 runs until interrupted)")
	cmd.Flags().StringVar(&match, "match", "", "only print payloads matching this regular expression")
	cmd.Flags().BoolVar(&noRetain, "no-retained", false, "skip retained messages replayed by the broker")

	return cmd
}

func printMessage(w io.Writer, msg *mqttv3.Message, verbose bool) {
	if verbose {
		fmt.Fprintf(w, "%s %s\n", msg.Topic, msg.Payload)
		return
	}
	fmt.Fprintf(w, "%s\n", msg.Payload)
}
