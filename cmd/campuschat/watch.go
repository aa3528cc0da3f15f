package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	campuschat "github.com/nextgen-campus/campuschat-go"
	"github.com/spf13/cobra"
)

var watchRooms []string

func init() {
	watchCmd.Flags().StringSliceVar(&watchRooms, "room", nil, "join a room on connect (repeatable, chat:<id> or group:<id>)")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live chat events to the terminal",
	Long:  "Connect to the chat socket and print messages, typing indicators, and presence changes as they arrive. Interrupt with Ctrl-C.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustConfig()

		rooms := make([]campuschat.RoomKey, 0, len(watchRooms))
		for _, arg := range watchRooms {
			room, err := parseRoomArg(arg)
			if err != nil {
				return err
			}
			rooms = append(rooms, room)
		}

		client := getClient()
		engine := campuschat.NewEngine(client, cfg.Auth.UserID,
			campuschat.WithNotifier(terminalNotifier{}))

		rt := getRealtime()
		engine.Attach(rt)

		rt.OnConnected(func() {
			fmt.Println("-- connected --")
		})
		rt.OnDisconnected(func(reason string) {
			fmt.Printf("-- disconnected: %s --\n", reason)
		})
		rt.OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Printf("-- reconnecting (attempt %d) in %s --\n", attempt, delay)
		})
		rt.OnMessageReceived(func(msg campuschat.Message) {
			fmt.Printf("[%s] %s %s: %s\n", msg.CreatedAt, msg.Room(), msg.SenderID, msg.Content)
		})
		rt.OnTyping(func(p campuschat.TypingPayload) {
			if p.IsTyping {
				fmt.Printf("-- %s is typing in %s --\n", p.UserID, p.Room)
			}
		})
		rt.OnStatus(func(p campuschat.StatusPayload) {
			fmt.Printf("-- %s is %s --\n", p.UserID, p.Event)
		})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := rt.Connect(ctx); err != nil {
			cancel()
			return fmt.Errorf("connect failed: %w", err)
		}
		cancel()

		for _, room := range rooms {
			if err := engine.OpenWindow(context.Background(), campuschat.WindowConfig{Key: room}); err != nil {
				fmt.Fprintf(os.Stderr, "open %s: %v\n", room, err)
			}
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		return rt.Disconnect()
	},
}

// terminalNotifier prints background-room messages to stderr.
type terminalNotifier struct{}

func (terminalNotifier) Notify(room campuschat.RoomKey, msg campuschat.Message) {
	fmt.Fprintf(os.Stderr, "** new message in %s from %s **\n", room, msg.SenderID)
}
