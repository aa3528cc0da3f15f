package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	campuschat "github.com/nextgen-campus/campuschat-go"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// history
	historyLimit  int
	historyBefore string

	// send
	sendFiles []string

	// search
	searchLimit int
)

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "page size (default server page)")
	historyCmd.Flags().StringVar(&historyBefore, "before", "", "page backwards from this created_at timestamp")
	sendCmd.Flags().StringSliceVar(&sendFiles, "file", nil, "attach a file (repeatable, max 5)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum results")

	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(groupsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sendCmd)
}

// ============================================================================
// chats
// ============================================================================

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List direct conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustConfig()
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		chats, err := client.ListChats(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if len(chats) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		for _, chat := range chats {
			other := campuschat.ExtractParticipant(chat, cfg.Auth.UserID)
			last := "-"
			if chat.LastMessage != nil {
				last = chat.LastMessage.Content
			}
			fmt.Printf("chat:%s  %-24s  %s\n", chat.ID, other.Name, last)
		}
		return nil
	},
}

// ============================================================================
// groups
// ============================================================================

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List group conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		groups, err := client.ListGroupChats(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if len(groups) == 0 {
			fmt.Println("No group chats found.")
			return nil
		}

		for _, group := range groups {
			fmt.Printf("group:%s  %-24s  %d members\n", group.ID, group.Name, len(group.MemberIDs))
		}
		return nil
	},
}

// ============================================================================
// search
// ============================================================================

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the participant directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		participants, err := client.SearchParticipants(ctx, args[0], searchLimit)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if len(participants) == 0 {
			fmt.Println("No participants found.")
			return nil
		}

		for _, p := range participants {
			fmt.Printf("%s  %-24s  %s\n", p.ID, p.Name, p.Role)
		}
		return nil
	},
}

// ============================================================================
// history
// ============================================================================

var historyCmd = &cobra.Command{
	Use:   "history <room>",
	Short: "Print recent messages for a room (chat:<id> or group:<id>)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, err := parseRoomArg(args[0])
		if err != nil {
			return err
		}
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var opts *campuschat.PageOptions
		if historyLimit > 0 || historyBefore != "" {
			opts = &campuschat.PageOptions{Limit: historyLimit, Before: historyBefore}
		}

		messages, err := client.FetchRoomMessages(ctx, room, opts)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if len(messages) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, msg := range messages {
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt, msg.SenderID, msg.Content)
			for _, att := range msg.Attachments {
				fmt.Printf("    attachment: %s (%s)\n", att.Name, att.URL)
			}
		}
		return nil
	},
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <room> <message>",
	Short: "Send a message to a room (chat:<id> or group:<id>)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, err := parseRoomArg(args[0])
		if err != nil {
			return err
		}
		client := getClient()

		files, err := readAttachments(sendFiles)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		msg, err := client.SendRoomMessage(ctx, room, campuschat.SendPayload{Content: args[1]}, files)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Message sent to %s\n", room)
		fmt.Printf("  Message ID: %s\n", msg.ID)
		fmt.Printf("  Content:    %s\n", msg.Content)
		return nil
	},
}

func readAttachments(paths []string) ([]campuschat.AttachmentFile, error) {
	var files []campuschat.AttachmentFile
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read attachment %s: %w", path, err)
		}
		files = append(files, campuschat.AttachmentFile{
			Name: filepath.Base(path),
			Data: data,
		})
	}
	return files, nil
}
