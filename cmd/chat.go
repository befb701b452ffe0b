package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nmelkov/persona-matcher/internal/engine"
)

var chatCmd = &cobra.Command{
	Use:   "chat <sender-id> <receiver-id> <message>...",
	Short: "Relay a message between two users and answer as the receiver's persona",
	Args:  cobra.MinimumNArgs(3),
	Run: func(_ *cobra.Command, args []string) {
		runChat(args)
	},
}

var describeCmd = &cobra.Command{
	Use:   "describe <user-id> <other-user-id>",
	Short: "Regenerate a user's persona description from their conversation history",
	Args:  cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		runDescribe(args)
	},
}

var friendsCmd = &cobra.Command{
	Use:   "friends <user-id>",
	Short: "List users this user has talked to, with the latest conversation summary",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		runFriends(args)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(friendsCmd)
}

func newChatRelay(a *appContext) *engine.Chat {
	return engine.NewChat(a.gemini, a.simulator(), a.store, a.config.Match.ChatBudget, 0, a.logger)
}

func runChat(args []string) {
	ctx := context.Background()

	a := setup(ctx)
	defer a.close()

	senderID, receiverID := args[0], args[1]
	message := strings.Join(args[2:], " ")

	result, err := newChatRelay(a).ProcessMessage(ctx, senderID, receiverID, message)
	if err != nil {
		a.logger.Fatal("processing the message", zap.Error(err))
	}

	fmt.Printf("%s: %s\n", receiverID, result.Reply)

	if result.Summarized {
		a.logger.Info("conversation reached its budget and was summarized",
			zap.String("sender_id", senderID),
			zap.String("receiver_id", receiverID),
		)
	}
}

func runDescribe(args []string) {
	ctx := context.Background()

	a := setup(ctx)
	defer a.close()

	description, err := newChatRelay(a).RefreshDescription(ctx, args[0], args[1])
	if err != nil {
		a.logger.Fatal("refreshing the description", zap.Error(err))
	}

	fmt.Println(description)
}

func runFriends(args []string) {
	ctx := context.Background()

	a := setup(ctx)
	defer a.close()

	friends, err := a.store.Friends(ctx, args[0])
	if err != nil {
		a.logger.Fatal("listing friends", zap.Error(err))
	}

	if len(friends) == 0 {
		a.logger.Info("exiting", zap.String("reason", "no conversations recorded for this user"))
		return
	}

	for _, friend := range friends {
		fmt.Printf("%s\n", friend.UserID)
		if friend.LastSummary != "" {
			fmt.Printf("   last conversation: %s\n", friend.LastSummary)
		}
	}
}
