package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/2-07665/ww-echo-policy-calculator/policy"
)

var (
	// Flags shared by every solving command
	logLevel        string   // Log verbosity level
	weightFlags     []string // Repeated "Buff Name=weight" pairs
	presetPath      string   // YAML preset file
	presetName      string   // Preset to pick from the file
	targetScore     float64  // Score the finished echo must reach
	scorerType      string   // "linear" or "fixed"
	costEcho        float64  // Weight of the echo cost axis
	costTuner       float64  // Weight of the tuner cost axis
	costExp         float64  // Weight of the exp cost axis
	expRefundRatio  float64  // Fraction of embedded exp returned on abandon
	userCountsPath  string   // Optional YAML file with user-observed rolls
	blendUserData   bool     // Merge user counts into the base histograms
	lambdaTolerance float64  // Lambda search tolerance
	lambdaMaxIter   int      // Lambda search iteration cap
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "ww-echo-policy-calculator",
	Short: "Expected-cost policy solver for echo sub-stat enhancement",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q", logLevel)
		}
		logrus.SetLevel(level)
		return nil
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newService builds a service and installs user counts when a file is given.
func newService() (*policy.Service, error) {
	svc := policy.NewService()
	if userCountsPath != "" {
		counts, err := policy.LoadUserCounts(userCountsPath)
		if err != nil {
			return nil, err
		}
		if err := svc.SetUserCounts(counts); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// resolveWeights merges a preset (if any) with explicit --weight flags;
// explicit flags win.
func resolveWeights(svc *policy.Service) (map[string]float64, error) {
	weights := make(map[string]float64)
	if presetPath != "" {
		presets, err := policy.LoadPresets(policy.NewCatalog(), presetPath)
		if err != nil {
			return nil, err
		}
		preset, err := policy.FindPreset(presets, presetName)
		if err != nil {
			return nil, err
		}
		for name, w := range preset.Weights {
			weights[name] = w
		}
	}
	for _, pair := range weightFlags {
		name, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("weight %q is not in Name=value form", pair)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("weight %q: %w", pair, err)
		}
		weights[strings.TrimSpace(name)] = w
	}
	if len(weights) == 0 {
		for name, w := range svc.Bootstrap().DefaultBuffWeights {
			weights[name] = w
		}
	}
	return weights, nil
}

func addSolveFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&weightFlags, "weight", nil, "Buff weight as \"Name=value\" (repeatable)")
	cmd.Flags().StringVar(&presetPath, "preset-file", "", "YAML preset file")
	cmd.Flags().StringVar(&presetName, "preset", "", "Preset name within --preset-file")
	cmd.Flags().Float64Var(&targetScore, "target", policy.DefaultTargetScore, "Target score the echo must reach")
	cmd.Flags().StringVar(&scorerType, "scorer", string(policy.DefaultScorerType), "Scorer variant (linear, fixed)")
	cmd.Flags().Float64Var(&costEcho, "cost-echo", 0, "Weight of the echo cost axis")
	cmd.Flags().Float64Var(&costTuner, "cost-tuner", 1, "Weight of the tuner cost axis")
	cmd.Flags().Float64Var(&costExp, "cost-exp", 0, "Weight of the exp cost axis")
	cmd.Flags().Float64Var(&expRefundRatio, "exp-refund", policy.RefundRatioDefault, "Exp refund ratio on abandon")
	cmd.Flags().StringVar(&userCountsPath, "user-counts", "", "YAML file with user-observed roll counts")
	cmd.Flags().BoolVar(&blendUserData, "blend-user-data", false, "Blend user counts into the base histograms")
	cmd.Flags().Float64Var(&lambdaTolerance, "lambda-tol", policy.DefaultLambdaTolerance, "Lambda search tolerance")
	cmd.Flags().IntVar(&lambdaMaxIter, "lambda-max-iter", policy.DefaultLambdaMaxIter, "Lambda search iteration cap")
}

func computeInput(weights map[string]float64) policy.ComputePolicyInput {
	refund := expRefundRatio
	return policy.ComputePolicyInput{
		BuffWeights:     weights,
		TargetScore:     targetScore,
		ScorerType:      policy.ScorerType(scorerType),
		CostWeights:     policy.CostWeights{Echo: costEcho, Tuner: costTuner, Exp: costExp},
		ExpRefundRatio:  &refund,
		BlendUserData:   blendUserData,
		LambdaTolerance: lambdaTolerance,
		LambdaMaxIter:   lambdaMaxIter,
	}
}

func printSummary(s policy.Summary) {
	fmt.Println("=== Policy Summary ===")
	fmt.Printf("Target score        : %.2f\n", s.TargetScore)
	fmt.Printf("Lambda*             : %.6f\n", s.LambdaStar)
	fmt.Printf("Cost per success    : %.6f\n", s.ExpectedCostPerSuccess)
	fmt.Printf("Success probability : %.6f\n", s.SuccessProbability)
	fmt.Printf("Echo per success    : %.3f\n", s.EchoPerSuccess)
	fmt.Printf("Tuner per success   : %.3f\n", s.TunerPerSuccess)
	fmt.Printf("Exp per success     : %.1f\n", s.ExpPerSuccess)
	fmt.Printf("Compute seconds     : %.3f\n", s.ComputeSeconds)
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(suggestCmd)
	rootCmd.AddCommand(rerollCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(serveCmd)
}
