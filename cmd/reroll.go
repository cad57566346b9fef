package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2-07665/ww-echo-policy-calculator/policy"
)

var (
	baselineBuffs  []string // Five baseline buff names
	candidateBuffs []string // Candidate buff names (up to five)
	rerollTopK     int      // Number of lock choices to print
)

// rerollCmd solves the fixed-scorer reroll policy and ranks lock-sets for
// a baseline echo.
var rerollCmd = &cobra.Command{
	Use:   "reroll",
	Short: "Rank lock-sets for rerolling a finished echo",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		weights, err := resolveWeights(svc)
		if err != nil {
			return err
		}
		ack, err := svc.ComputeRerollPolicy(cmd.Context(), policy.RerollComputeInput{
			BuffWeights:     weights,
			TargetScore:     targetScore,
			LambdaTolerance: lambdaTolerance,
			LambdaMaxIter:   lambdaMaxIter,
		})
		if err != nil {
			return err
		}
		result, err := svc.QueryRerollRecommendation(policy.RerollQueryInput{
			PolicyID:           ack.PolicyID,
			BaselineBuffNames:  baselineBuffs,
			CandidateBuffNames: candidateBuffs,
			TopK:               rerollTopK,
		})
		if err != nil {
			return err
		}
		if !result.Valid {
			return fmt.Errorf("reroll query rejected: %s", result.Reason)
		}

		fmt.Printf("Baseline score: %.2f\n", result.BaselineScore)
		if result.CandidateScore != nil {
			fmt.Printf("Candidate score: %.2f (accept: %v)\n", *result.CandidateScore, *result.AcceptCandidate)
		}
		fmt.Println("Rank  Locked slots      Expected cost  Success prob  Regret")
		for i, choice := range result.RecommendedLockChoices {
			locks := "(none)"
			if len(choice.LockSlotIndices) > 0 {
				parts := make([]string, len(choice.LockSlotIndices))
				for j, s := range choice.LockSlotIndices {
					parts[j] = fmt.Sprintf("%d", s)
				}
				locks = strings.Join(parts, ",")
			}
			regret := fmt.Sprintf("%.4f", choice.Regret)
			if i == 0 {
				regret = "—"
			}
			fmt.Printf("%-5d %-17s %-14.4f %-13.4f %s\n",
				i+1, locks, choice.ExpectedCost, choice.SuccessProbability, regret)
		}
		return nil
	},
}

func init() {
	addSolveFlags(rerollCmd)
	rerollCmd.Flags().StringArrayVar(&baselineBuffs, "baseline", nil, "Baseline buff name (five, repeatable)")
	rerollCmd.Flags().StringArrayVar(&candidateBuffs, "candidate", nil, "Candidate buff name (repeatable)")
	rerollCmd.Flags().IntVar(&rerollTopK, "top-k", 0, "Limit printed lock choices (0 = all)")
}
