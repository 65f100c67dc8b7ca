package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"classchat/internal/conversation"
	"classchat/internal/session"
	"classchat/pkg/types"
)

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func parseUserIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || !types.IsValidUserID(id) {
			return nil, fmt.Errorf("%w: %q", types.ErrInvalidUserID, arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <partner-id>",
		Short: "Open a conversation and chat interactively",
		Long: `Open the conversation with a user, print its history and follow it live.

Each line typed is sent as a message. Lines starting with / are commands:
  /reconnect  dial again after the client gave up
  /refresh    reload the history
  /quit       leave`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseUserIDs(args)
			if err != nil {
				return err
			}
			partnerID := ids[0]

			ctx, cancel := signalContext(cmd)
			defer cancel()

			application, stop, err := startApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer stop()

			ctl := application.Session()
			out := newRenderer(cmd.OutOrStdout(), ctl.Claims().UserID)
			defer ctl.SubscribeState(out.state)()
			defer ctl.SubscribeEvents(func(ev types.InboundEvent) {
				if a, ok := ev.(types.AnnouncementEvent); ok {
					out.announcement(a)
				}
			})()

			b, err := ctl.OpenConversation(ctx, partnerID)
			if b == nil {
				return err
			}
			defer ctl.CloseConversation(b)
			defer b.SubscribeView(out.view)()
			out.view(b.State())

			if err := ctl.WatchOnline(partnerID); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "!! online status: %v\n", err)
			}
			return chatLoop(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), ctl, b)
		},
	}
}

// chatLoop sends every input line until EOF, /quit or cancellation
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, ctl *session.Controller, b *conversation.Binding) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				continue
			case "/quit":
				return nil
			case "/reconnect":
				if err := ctl.Reconnect(ctx); err != nil {
					fmt.Fprintf(out, "!! reconnect failed: %v\n", err)
				}
				continue
			case "/refresh":
				if err := b.Refresh(ctx); err != nil {
					fmt.Fprintf(out, "!! refresh failed: %v\n", err)
				}
				continue
			}

			b.SetInput(line)
			if err := b.Send(ctx); err != nil {
				fmt.Fprintf(out, "!! send failed: %v\n", err)
			}
		}
	}
}

func newConversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations with unread counts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			application, stop, err := startApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer stop()

			ctl := application.Session()
			conversations, err := ctl.Conversations(ctx)
			if err != nil {
				return fmt.Errorf("failed to list conversations: %w", err)
			}
			unread, err := ctl.UnreadCount(ctx)
			if err != nil {
				return fmt.Errorf("failed to count unread messages: %w", err)
			}

			return printConversations(cmd.OutOrStdout(), conversations, unread)
		},
	}
}

func printConversations(out io.Writer, conversations []types.Conversation, unread int) error {
	if len(conversations) == 0 {
		fmt.Fprintln(out, "No conversations")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCLASS\tUNREAD")
	for _, conv := range conversations {
		class := "-"
		if conv.ClassName != "" {
			class = strings.TrimSpace(conv.ClassName + " " + conv.SectionName)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", conv.ID, conv.DisplayName(), class, conv.UnreadCount)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d unread message(s)\n", unread)
	return nil
}

func newBroadcastCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broadcast <message>",
		Short: "Send an announcement (admins only)",
		Long: `Send an announcement to every user, or to one class or section.
The server drops broadcasts from users who are not admins.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			className, _ := cmd.Flags().GetString("class")
			sectionName, _ := cmd.Flags().GetString("section")
			content := strings.Join(args, " ")

			ctx, cancel := signalContext(cmd)
			defer cancel()

			application, stop, err := startApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer stop()

			ctl := application.Session()
			if claims := ctl.Claims(); claims != nil && claims.Role != "" && claims.Role != "admin" {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: role %q may not broadcast\n", claims.Role)
			}
			if err := ctl.Broadcast(content, className, sectionName); err != nil {
				if errors.Is(err, types.ErrNotConnected) {
					return fmt.Errorf("chat server unreachable, announcement not sent: %w", err)
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Announcement sent")
			return nil
		},
	}
	cmd.Flags().String("class", "", "Limit to one class")
	cmd.Flags().String("section", "", "Limit to one section of the class")
	return cmd
}

func newOnlineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "online <user-id>...",
		Short: "Show whether users are online",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseUserIDs(args)
			if err != nil {
				return err
			}
			wait, _ := cmd.Flags().GetDuration("wait")

			ctx, cancel := signalContext(cmd)
			defer cancel()

			application, stop, err := startApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer stop()

			ctl := application.Session()
			updated := make(chan struct{}, 1)
			defer ctl.SubscribeEvents(func(ev types.InboundEvent) {
				if _, ok := ev.(types.OnlineStatusEvent); !ok {
					return
				}
				select {
				case updated <- struct{}{}:
				default:
				}
			})()

			if !ctl.Router().IsConnected() {
				return fmt.Errorf("chat server unreachable: %w", types.ErrNotConnected)
			}
			if err := ctl.WatchOnline(ids...); err != nil {
				return err
			}

			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-updated:
			case <-timer.C:
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: no presence update received")
			case <-ctx.Done():
				return ctx.Err()
			}

			for _, id := range ids {
				status := "offline"
				if ctl.Router().IsOnline(id) {
					status = "online"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", id, status)
			}
			return nil
		},
	}
	cmd.Flags().Duration("wait", 3*time.Second, "How long to wait for the server's answer")
	return cmd
}
