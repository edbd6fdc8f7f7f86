package main

import (
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/edgerun/internal/confidence"
	"github.com/sawpanic/edgerun/internal/dataset"
	atomicio "github.com/sawpanic/edgerun/internal/io"
	"github.com/sawpanic/edgerun/internal/montecarlo"
	"github.com/sawpanic/edgerun/internal/paper"
	"github.com/sawpanic/edgerun/internal/walkforward"
)

// outPath returns --out when set, else name under the reports directory
func (a *app) outPath(cmd *cobra.Command, name string) string {
	if out, _ := cmd.Flags().GetString("out"); out != "" {
		return out
	}
	return filepath.Join(a.cfg.Paths.ReportsDir, name)
}

func (a *app) integrityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integrity",
		Short: "Validate the two-rows-per-event contract of a feature table",
		Long: `Checks event sizes, start times, complementary outcomes, opponent ids and
core fields, and writes the issue lists. With --strict any issue exits 2.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			input := a.input(cmd.Flags())
			table, err := dataset.ReadTable(input)
			if err != nil {
				return err
			}
			report := dataset.CheckIntegrity(table, a.now().UTC())
			report.Input = input

			out := a.outPath(cmd, "dataset_integrity_report.json")
			if err := atomicio.WriteJSONAtomic(out, report); err != nil {
				return err
			}
			a.printf("integrity: rows=%d events=%d issues=%d report=%s\n", report.Rows, report.Events, report.TotalIssueCount, out)

			if strict, _ := cmd.Flags().GetBool("strict"); strict {
				return report.StrictError()
			}
			return nil
		},
	}
	cmd.Flags().AddFlagSet(inputFlags())
	cmd.Flags().String("out", "", "Report path")
	cmd.Flags().Bool("strict", false, "Fail with exit code 2 when any issue is found")
	return cmd
}

func (a *app) walkForwardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "walkforward",
		Short: "Evaluate the model season by season against coin bettors",
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			input := a.input(fs)
			cfg := &a.cfg.WalkForward
			if err := applyModel(fs, &cfg.Model); err != nil {
				return err
			}
			applyStaking(fs, &cfg.Bankroll, &cfg.FlatStake, &cfg.SlippageBps)
			overrideFloat(fs, "edge-min", &cfg.EdgeMin)
			overrideInt(fs, "min-train-seasons", &cfg.MinTrainSeasons)
			overrideInt(fs, "coin-seeds", &cfg.CoinSeeds)
			overrideInt(fs, "bootstrap-samples", &cfg.BootstrapSamples)
			overrideInt64(fs, "bootstrap-seed", &cfg.BootstrapSeed)
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			records, _, err := dataset.LoadRecords(input)
			if err != nil {
				return err
			}
			report, err := walkforward.Run(cmd.Context(), records, *cfg)
			if err != nil {
				return err
			}
			report.Input = input

			w := walkforward.NewWriter(a.outPath(cmd, "walk_forward_report.json"))
			if err := w.Write(report); err != nil {
				return err
			}
			jsonPath, mdPath := w.ArtifactPaths()
			s := report.Summary
			a.printf("walkforward: windows=%d roi_mean=%.4f roi_std=%.4f report=%s summary=%s\n",
				s.NWindows, s.ModelROIMean, s.ModelROIStd, jsonPath, mdPath)
			return nil
		},
	}
	cmd.Flags().AddFlagSet(inputFlags())
	cmd.Flags().AddFlagSet(modelFlags())
	cmd.Flags().AddFlagSet(stakingFlags())
	cmd.Flags().String("out", "", "Report path (markdown summary is written alongside)")
	cmd.Flags().Float64("edge-min", 0, "Minimum edge for a model bet")
	cmd.Flags().Int("min-train-seasons", 0, "Seasons required before the first test season")
	cmd.Flags().Int("coin-seeds", 0, "Coin bettor seeds per window")
	cmd.Flags().Int("bootstrap-samples", 0, "Bootstrap resamples per window (0 disables)")
	cmd.Flags().Int64("bootstrap-seed", 0, "Bootstrap generator seed")
	return cmd
}

func (a *app) confidenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confidence",
		Short: "Score confidence, tune bucket thresholds and backtest staking policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			input := a.input(fs)
			cfg := &a.cfg.Confidence
			applyWindow(fs, &cfg.Split)
			if err := applyModel(fs, &cfg.Model); err != nil {
				return err
			}
			applyStaking(fs, &cfg.Bankroll, &cfg.FlatStake, &cfg.SlippageBps)
			if fs.Changed("threshold-mode") {
				mode, _ := fs.GetString("threshold-mode")
				cfg.ThresholdMode = confidence.ThresholdMode(mode)
			}
			overrideFloat(fs, "bucket-a", &cfg.BucketA)
			overrideFloat(fs, "bucket-b", &cfg.BucketB)
			overrideFloat(fs, "calibration-ratio", &cfg.CalibrationRatio)
			overrideBool(fs, "strict-calibration", &cfg.StrictCalib)
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			records, _, err := dataset.LoadRecords(input)
			if err != nil {
				return err
			}
			report, err := confidence.Run(cmd.Context(), records, *cfg)
			if err != nil {
				return err
			}
			report.Input = input

			out := a.outPath(cmd, "confidence_policy_report.json")
			if err := atomicio.WriteJSONAtomic(out, report); err != nil {
				return err
			}
			a.printf("confidence: mode=%s bucket_a=%g bucket_b=%g best=%s report=%s\n",
				report.Active.Mode, report.Active.BucketA, report.Active.BucketB,
				report.Recommendation.BestPolicyByROI.Policy, out)
			return nil
		},
	}
	cmd.Flags().AddFlagSet(inputFlags())
	cmd.Flags().AddFlagSet(windowFlags())
	cmd.Flags().AddFlagSet(modelFlags())
	cmd.Flags().AddFlagSet(stakingFlags())
	cmd.Flags().String("out", "", "Report path")
	cmd.Flags().String("threshold-mode", "", "Threshold mode (manual|hybrid)")
	cmd.Flags().Float64("bucket-a", 0, "Manual bucket A threshold")
	cmd.Flags().Float64("bucket-b", 0, "Manual bucket B threshold")
	cmd.Flags().Float64("calibration-ratio", 0, "Share of train events held out for calibration")
	cmd.Flags().Bool("strict-calibration", false, "Fail instead of falling back to manual thresholds")
	return cmd
}

func (a *app) monteCarloCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "montecarlo",
		Short: "Compare the model's bets against seeded coin bettors",
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			input := a.input(fs)
			cfg := &a.cfg.MonteCarlo
			applyWindow(fs, &cfg.Split)
			if err := applyModel(fs, &cfg.Model); err != nil {
				return err
			}
			applyStaking(fs, &cfg.Bankroll, &cfg.FlatStake, nil)
			overrideFloat(fs, "model-edge-min", &cfg.ModelEdgeMin)
			overrideFloat(fs, "coin-bet-prob", &cfg.CoinBetProb)
			overrideBool(fs, "coin-follows-model", &cfg.CoinFollowsModel)
			overrideInt(fs, "seeds", &cfg.Seeds)
			overrideInt64(fs, "start-seed", &cfg.StartSeed)
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			records, _, err := dataset.LoadRecords(input)
			if err != nil {
				return err
			}
			report, err := montecarlo.Run(cmd.Context(), records, *cfg)
			if err != nil {
				return err
			}
			report.Input = input

			out := a.outPath(cmd, "model_vs_coin_monte_carlo.json")
			if err := atomicio.WriteJSONAtomic(out, report); err != nil {
				return err
			}
			s := report.Summary
			a.printf("montecarlo: runs=%d beats_coin=%.3f delta_income_p50=%.2f report=%s\n",
				s.NRuns, s.ModelBeatsCoinRate, s.DeltaIncomeP50, out)
			return nil
		},
	}
	cmd.Flags().AddFlagSet(inputFlags())
	cmd.Flags().AddFlagSet(windowFlags())
	cmd.Flags().AddFlagSet(modelFlags())
	cmd.Flags().AddFlagSet(stakingFlags())
	cmd.Flags().String("out", "", "Report path")
	cmd.Flags().Float64("model-edge-min", 0, "Minimum edge for a model bet")
	cmd.Flags().Float64("coin-bet-prob", 0, "Probability the coin bettor bets an eligible event")
	cmd.Flags().Bool("coin-follows-model", false, "Restrict the coin bettor to events the model bet")
	cmd.Flags().Int("seeds", 0, "Number of coin bettor seeds")
	cmd.Flags().Int64("start-seed", 0, "First coin bettor seed")
	return cmd
}

func (a *app) paperCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paper",
		Short: "Paper-trade the test window with flat and fractional Kelly staking",
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			input := a.input(fs)
			cfg := &a.cfg.Paper
			applyWindow(fs, &cfg.Split)
			if err := applyModel(fs, &cfg.Model); err != nil {
				return err
			}
			applyStaking(fs, &cfg.Bankroll, &cfg.FlatStake, nil)
			if fs.Changed("selection-mode") {
				mode, _ := fs.GetString("selection-mode")
				cfg.SelectionMode = paper.SelectionMode(mode)
			}
			overrideFloat(fs, "edge-min", &cfg.EdgeMin)
			overrideInt(fs, "max-bets-per-event", &cfg.MaxBetsPerEvent)
			overrideFloat(fs, "kelly-fraction", &cfg.KellyFraction)
			overrideFloat(fs, "kelly-cap", &cfg.KellyCap)
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			records, _, err := dataset.LoadRecords(input)
			if err != nil {
				return err
			}
			report, err := paper.Run(cmd.Context(), records, *cfg)
			if err != nil {
				return err
			}
			report.Input = input

			out := a.outPath(cmd, "paper_backtest_report.json")
			predictions, _ := fs.GetString("predictions-out")
			if predictions == "" {
				predictions = filepath.Join(filepath.Dir(out), "paper_backtest_predictions.csv")
			}
			if err := paper.WriteArtifacts(report, out, predictions); err != nil {
				return err
			}
			flat, kelly := report.PnL.FlatDefault, report.PnL.FractionalKelly
			a.printf("paper: bets=%d flat_roi=%.4f kelly_end=%.2f report=%s predictions=%s\n",
				flat.NBets, flat.ROIOnStaked, kelly.BankrollEnd, out, predictions)
			log.Debug().Str("mode", string(cfg.SelectionMode)).Msg("Paper backtest written")
			return nil
		},
	}
	cmd.Flags().AddFlagSet(inputFlags())
	cmd.Flags().AddFlagSet(windowFlags())
	cmd.Flags().AddFlagSet(modelFlags())
	cmd.Flags().AddFlagSet(stakingFlags())
	cmd.Flags().String("out", "", "Report path")
	cmd.Flags().String("predictions-out", "", "Predictions CSV path (defaults next to the report)")
	cmd.Flags().String("selection-mode", "", "Bet selection (edge|top_pick)")
	cmd.Flags().Float64("edge-min", 0, "Minimum edge in edge mode")
	cmd.Flags().Int("max-bets-per-event", 0, "Bets allowed per event in edge mode")
	cmd.Flags().Float64("kelly-fraction", 0, "Fraction of full Kelly")
	cmd.Flags().Float64("kelly-cap", 0, "Kelly stake cap as a share of bankroll")
	return cmd
}
