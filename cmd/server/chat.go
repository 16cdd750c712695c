package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"intake-chatbot/internal/core"
	"intake-chatbot/pkg"
)

// chatCmd runs one intake session on the terminal, reading each answer as a
// line of text.
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run one intake session on the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		engine, err := newEngine(core.EngineOptions{})
		if err != nil {
			return err
		}
		manager := core.NewManager(engine, core.ManagerOptions{MessageCap: cfg.MessageCap, Log: logger})
		sess, resp, err := manager.Create(ctx)
		if err != nil {
			return err
		}
		defer manager.End(ctx, sess.ID)

		out := cmd.OutOrStdout()
		printMessages(cmd, resp.Messages)
		in := bufio.NewScanner(os.Stdin)
		for sess.State().Stage != pkg.StageComplete {
			fmt.Fprint(out, "> ")
			if !in.Scan() {
				return in.Err()
			}
			resp, err := sess.HandleTranscript(ctx, in.Text())
			switch {
			case errors.Is(err, core.ErrEmptyInput):
				continue
			case errors.Is(err, core.ErrMessageCap):
				printMessages(cmd, resp.Messages)
				return nil
			case err != nil:
				return err
			}
			printMessages(cmd, resp.Messages)
		}
		return nil
	},
}

func printMessages(cmd *cobra.Command, messages []string) {
	for _, m := range messages {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", m)
	}
}
