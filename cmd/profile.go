package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nmelkov/persona-matcher/internal/store"
)

var profileCmd = &cobra.Command{
	Use:   "profile <user-id>",
	Short: "Create or update a user's persona profile",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runProfile(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)

	profileCmd.Flags().String("description", "", "the persona description")
	profileCmd.Flags().StringSlice("interests", nil, "comma-separated list of interests")
	profileCmd.Flags().String("group", "", "the group this user belongs to")

	profileCmd.MarkFlagRequired("description")
}

func runProfile(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	a := setup(ctx)
	defer a.close()

	description, _ := cmd.Flags().GetString("description")
	interests, _ := cmd.Flags().GetStringSlice("interests")
	groupID, _ := cmd.Flags().GetString("group")

	persona := &store.Persona{
		UserID:      args[0],
		Description: description,
		Interests:   interests,
		GroupID:     groupID,
	}

	if err := a.store.UpsertProfile(ctx, persona); err != nil {
		a.logger.Fatal("saving the profile", zap.Error(err))
	}

	a.logger.Info("profile saved", zap.String("user_id", persona.UserID))
}
