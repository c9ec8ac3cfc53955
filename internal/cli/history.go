package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/angelfsepulveda/customchatfree/internal/service/assistant"
	"github.com/angelfsepulveda/customchatfree/internal/storage"
)

var (
	historyUser string
	historyLogs int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print stored conversations and messages for a user",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVarP(&historyUser, "user", "u", "", "username (default user.default_username)")
	historyCmd.Flags().IntVar(&historyLogs, "logs", 0, "also print the N most recent audit entries")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	username := historyUser
	if strings.TrimSpace(username) == "" {
		username = a.cfg.User.DefaultUsername
	}
	return printHistory(cmd, a.assistant, username, historyLogs)
}

func printHistory(cmd *cobra.Command, svc *assistant.Service, username string, logs int) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	user, err := svc.GetUserByUsername(ctx, nil, username)
	if err != nil {
		return err
	}
	conversations, err := svc.GetConversationsByUser(ctx, nil, user.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "user %s (id %d): %d conversation(s)\n", user.Username, user.ID, len(conversations))
	for _, conv := range conversations {
		role := "none"
		if conv.RoleID != nil {
			role = fmt.Sprintf("%d", *conv.RoleID)
		}
		fmt.Fprintf(out, "\n== conversation %d, started %s, role %s\n",
			conv.ID, storage.FormatTime(conv.StartTime), role)
		messages, err := svc.GetMessagesByConversation(ctx, nil, conv.ID)
		if err != nil {
			return err
		}
		for _, m := range messages {
			fmt.Fprintf(out, "[%s] %s (%s): %s\n", storage.FormatTime(m.Timestamp), m.Role, m.Model, m.Content)
		}
	}
	if logs > 0 {
		return printLogs(ctx, out, svc, logs)
	}
	return nil
}

func printLogs(ctx context.Context, out io.Writer, svc *assistant.Service, limit int) error {
	entries, err := svc.ListLogs(ctx, nil, limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n== last %d audit entries\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(out, "%d [%s] %s: %s\n", e.ID, storage.FormatTime(e.Timestamp), e.Action, e.Details)
	}
	return nil
}
