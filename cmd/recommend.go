package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nmelkov/persona-matcher/internal/engine"
)

var recommendCmd = &cobra.Command{
	Use:   "recommend <user-id>",
	Short: "Produce friend recommendations for a user",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		runRecommend(args)
	},
}

var explainCmd = &cobra.Command{
	Use:   "explain <user-id> <recommended-user-id>",
	Short: "Explain why a user was recommended, based on shared conversations",
	Args:  cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		runExplain(args)
	},
}

func init() {
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(explainCmd)
}

func runRecommend(args []string) {
	ctx := context.Background()

	a := setup(ctx)
	defer a.close()

	recommender := engine.NewRecommender(a.store, a.judge(), a.matcherConfig(), a.logger)

	recs, err := recommender.Recommendations(ctx, args[0])
	if err != nil {
		a.logger.Fatal("producing recommendations", zap.Error(err))
	}

	if len(recs) == 0 {
		a.logger.Info("exiting", zap.String("reason", "no recommendations above the confidence threshold"))
		return
	}

	for i, rec := range recs {
		fmt.Printf("%d. %s (score %.2f)\n   %s\n", i+1, rec.CandidateID, rec.Score, rec.Rationale)
	}
}

func runExplain(args []string) {
	ctx := context.Background()

	a := setup(ctx)
	defer a.close()

	recommender := engine.NewRecommender(a.store, a.judge(), a.matcherConfig(), a.logger)

	explanation, err := recommender.Explain(ctx, args[0], args[1])
	if err != nil {
		a.logger.Fatal("explaining the recommendation", zap.Error(err))
	}

	pretty, _ := json.MarshalIndent(explanation, "", "  ")
	fmt.Println(string(pretty))
}
