package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// solveCmd computes the optimal enhancement policy and prints its summary.
var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Compute the optimal enhancement policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		weights, err := resolveWeights(svc)
		if err != nil {
			return err
		}
		logrus.Infof("solving target=%.2f scorer=%s", targetScore, scorerType)
		result, err := svc.ComputePolicy(cmd.Context(), computeInput(weights))
		if err != nil {
			return err
		}
		printSummary(result.Summary)
		return nil
	},
}

func init() {
	addSolveFlags(solveCmd)
}
