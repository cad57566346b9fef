package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	simulationRuns int   // Number of replayed attempts
	simulationSeed int64 // RNG seed for reproducible replays
)

// simulateCmd validates a solved policy by replaying it with a seeded RNG.
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Validate the solved policy with a Monte-Carlo replay",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		weights, err := resolveWeights(svc)
		if err != nil {
			return err
		}
		input := computeInput(weights)
		input.SimulationRuns = simulationRuns
		input.SimulationSeed = simulationSeed
		result, err := svc.ComputePolicy(cmd.Context(), input)
		if err != nil {
			return err
		}
		printSummary(result.Summary)
		if result.ValidationNote != "" {
			fmt.Printf("Validation note: %s\n", result.ValidationNote)
			return nil
		}
		sim := result.Validation
		fmt.Println("=== Monte-Carlo Replay ===")
		fmt.Printf("Attempts            : %d\n", sim.TotalRuns)
		fmt.Printf("Success rate        : %.6f (±%.6f)\n", sim.SuccessRate, sim.SuccessRateStdErr)
		fmt.Printf("Echo per success    : %.3f\n", sim.EchoPerSuccess)
		fmt.Printf("Tuner per success   : %.3f\n", sim.TunerPerSuccess)
		fmt.Printf("Exp per success     : %.1f\n", sim.ExpPerSuccess)
		fmt.Printf("Cost per success    : %.6f\n", sim.WeightedCostPerSuccess)
		return nil
	},
}

func init() {
	addSolveFlags(simulateCmd)
	simulateCmd.Flags().IntVar(&simulationRuns, "runs", 1000000, "Number of replayed attempts")
	simulateCmd.Flags().Int64Var(&simulationSeed, "seed", 42, "Seed for the replay RNG")
}
