package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nmelkov/persona-matcher/internal/engine"
)

const (
	PromptShowReport = "Show full report"
	PromptDumpToFile = "Dump matches to file"
	PromptExit       = "Exit"
)

var errExit = errors.New("exit requested")

var resultPrompt = promptui.Select{
	Label: "What next?",
	Items: []string{PromptShowReport, PromptDumpToFile, PromptExit},
}

var matchCmd = &cobra.Command{
	Use:   "match <user-id> <interaction-type>",
	Short: "Find the best matching candidates for a user",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		runMatch(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().BoolP("embeddings", "e", false, "score candidates by embedding similarity instead of a judged evaluation")
	matchCmd.Flags().StringP("group", "g", "", "restrict candidates to a group")
	matchCmd.Flags().BoolP("no-prompt", "y", false, "print matches as JSON and exit without the interactive menu")
}

func runMatch(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	a := setup(ctx)
	defer a.close()

	userID, interactionType := args[0], args[1]
	useEmbeddings, _ := cmd.Flags().GetBool("embeddings")
	groupID, _ := cmd.Flags().GetString("group")

	sim := a.simulator()
	scorer := engine.NewEmbeddingScorer(sim, a.gemini, a.store, a.config.Match.SimilarK, a.logger)
	matcher := engine.NewMatcher(a.store, sim, a.judge(), scorer, a.matcherConfig(), a.logger)

	matches, err := matcher.FindMatches(ctx, userID, interactionType, useEmbeddings, groupID)
	if err != nil {
		a.logger.Fatal("finding matches", zap.Error(err))
	}

	if len(matches) == 0 {
		a.logger.Info("exiting", zap.String("reason", "no matches found"))
		return
	}

	for i, match := range matches {
		fmt.Printf("%d. %s (score %.2f, %s)\n", i+1, match.CandidateID, match.Score, match.Strategy)
	}

	if noPrompt, _ := cmd.Flags().GetBool("no-prompt"); noPrompt {
		pretty, _ := json.MarshalIndent(matches, "", "  ")
		fmt.Println(string(pretty))
		return
	}

	for {
		_, action, err := resultPrompt.Run()
		if err != nil {
			a.logger.Fatal("exiting", zap.Error(err))
		}

		if err := handleMatchAction(action, matches, a.logger); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			a.logger.Fatal("exiting", zap.Error(err))
		}
	}
}

func handleMatchAction(action string, matches []*engine.CandidateScore, logger *zap.Logger) error {
	switch action {
	case PromptShowReport:
		pretty, _ := json.MarshalIndent(matches, "", "  ")
		logger.Info(string(pretty), zap.Int("matches count", len(matches)))
		return nil
	case PromptDumpToFile:
		filename, err := dumpMatches(matches)
		if err != nil {
			return fmt.Errorf("dump results to file: %w", err)
		}
		logger.Info("dumping result to file", zap.String("filename", filename))
		return nil
	case PromptExit:
		logger.Info("exiting", zap.String("reason", "got exit from prompt"))
		return errExit
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

func dumpMatches(matches []*engine.CandidateScore) (string, error) {
	file, err := os.CreateTemp("", app+"-matches-*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(matches); err != nil {
		return "", err
	}

	return file.Name(), nil
}
