package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2-07665/ww-echo-policy-calculator/policy"
)

var slotFlags []string // Revealed slots as "Buff Name=value"

// suggestCmd solves the policy, then advises on a partially revealed echo.
var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Advise continue/abandon for a partially revealed echo",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		weights, err := resolveWeights(svc)
		if err != nil {
			return err
		}
		names, values, err := parseSlots(slotFlags)
		if err != nil {
			return err
		}
		result, err := svc.ComputePolicy(cmd.Context(), computeInput(weights))
		if err != nil {
			return err
		}
		suggestion, err := svc.PolicySuggestion(policy.SuggestionInput{
			PolicyID:   result.PolicyID,
			BuffNames:  names,
			BuffValues: values,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Stage %d: %s (success probability %.4f)\n",
			suggestion.Stage, suggestion.Suggestion, suggestion.SuccessProbability)
		return nil
	},
}

func parseSlots(flags []string) ([]string, []int, error) {
	names := make([]string, 0, len(flags))
	values := make([]int, 0, len(flags))
	for _, pair := range flags {
		name, raw, found := strings.Cut(pair, "=")
		if !found {
			return nil, nil, fmt.Errorf("slot %q is not in Name=value form", pair)
		}
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, nil, fmt.Errorf("slot %q: %w", pair, err)
		}
		names = append(names, strings.TrimSpace(name))
		values = append(values, v)
	}
	return names, values, nil
}

func init() {
	addSolveFlags(suggestCmd)
	suggestCmd.Flags().StringArrayVar(&slotFlags, "slot", nil, "Revealed slot as \"Name=value\" on the x10 grid (repeatable)")
}
