package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/edgerun/internal/confidence"
	"github.com/sawpanic/edgerun/internal/governance"
	"github.com/sawpanic/edgerun/internal/ledger"
	"github.com/sawpanic/edgerun/internal/metrics"
	"github.com/sawpanic/edgerun/internal/policy"
)

// openLedger connects the optional ledger; nil when disabled
func (a *app) openLedger(ctx context.Context) (*ledger.Repo, error) {
	if !a.cfg.Ledger.Enabled {
		return nil, nil
	}
	repo, err := ledger.Open(ctx, a.cfg.Ledger)
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(ctx); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}

// openStore returns the file store, mirrored to redis when enabled
func (a *app) openStore(ctx context.Context) (policy.Store, func(), error) {
	files := policy.NewFileStore(a.cfg.Paths.ProvisionalState, a.cfg.Paths.RuntimeState)
	if !a.cfg.Redis.Enabled {
		return files, func() {}, nil
	}
	client, err := policy.DialRedis(ctx, a.cfg.Redis.Addr, a.cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	store := policy.MultiStore{files, policy.NewRedisStore(client, a.cfg.Redis.Prefix)}
	return store, func() { client.Close() }, nil
}

func (a *app) writeTextfile(reg *metrics.Registry) {
	if a.cfg.Paths.MetricsTextfile == "" {
		return
	}
	if err := reg.WriteTextfile(a.cfg.Paths.MetricsTextfile); err != nil {
		log.Warn().Err(err).Str("path", a.cfg.Paths.MetricsTextfile).Msg("Failed to write metrics textfile")
	}
}

func (a *app) governanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "governance",
		Short: "Run every validation stage and gate the results",
		Long: `Runs integrity, walk-forward, confidence and Monte-Carlo stages in order,
hashes their artifacts, applies health gates and drift checks, and writes
the governance report that policy publishing reads. A failed stage still
writes a failed report and exits 6.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			input := a.input(fs)
			overrideString(fs, "out-dir", &a.cfg.Governance.OutDir)
			overrideString(fs, "metrics-textfile", &a.cfg.Paths.MetricsTextfile)
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			reg := metrics.New()
			opts := []governance.Option{governance.WithMetrics(reg), governance.WithClock(a.now)}
			repo, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			if repo != nil {
				defer repo.Close()
				opts = append(opts, governance.WithLedger(repo))
			}

			report, err := governance.New(a.cfg.Governance, opts...).Run(cmd.Context(), input)
			a.writeTextfile(reg)
			if report != nil {
				a.printf("governance: run=%s status=%s decision=%s alerts=%d report=%s\n",
					report.RunID, report.Status, report.Decision, len(report.Alerts), report.Artifacts.Governance)
			}
			return err
		},
	}
	cmd.Flags().AddFlagSet(inputFlags())
	cmd.Flags().String("out-dir", "", "Governance output directory")
	cmd.Flags().String("metrics-textfile", "", "Write Prometheus textfile metrics here")
	return cmd
}

func (a *app) policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Publish and enforce the provisional betting policy",
	}
	cmd.PersistentFlags().String("governance-dir", "", "Directory holding governance reports")
	cmd.AddCommand(a.publishCmd(), a.enforceCmd())
	return cmd
}

func (a *app) publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish the provisional policy from the latest healthy governance report",
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			overrideString(fs, "governance-dir", &a.cfg.Governance.OutDir)
			overrideString(fs, "out", &a.cfg.Paths.ProvisionalState)
			if fs.Changed("policy") {
				name, _ := fs.GetString("policy")
				a.cfg.Publish.Policy = confidence.PolicyName(name)
			}
			overrideInt(fs, "valid-days", &a.cfg.Publish.ValidDays)
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			gov, govPath, err := governance.LoadLatest(a.cfg.Governance.OutDir)
			if err != nil {
				return err
			}
			state, err := policy.Publish(gov, govPath, a.cfg.Publish, a.now())
			if err != nil {
				return err
			}

			store, closeStore, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()
			if err := store.SaveProvisional(cmd.Context(), state); err != nil {
				return err
			}
			a.printf("policy publish: policy=%s bucket_a=%g bucket_b=%g valid_until=%s state=%s\n",
				state.ModelPolicy.Policy, state.ModelPolicy.BucketA, state.ModelPolicy.BucketB,
				state.ValidUntil.Format("2006-01-02T15:04:05Z"), a.cfg.Paths.ProvisionalState)
			return nil
		},
	}
	cmd.Flags().String("out", "", "Provisional state path")
	cmd.Flags().String("policy", "", "Policy to promote (A_only|A_B|all)")
	cmd.Flags().Int("valid-days", 0, "Days the provisional policy stays valid")
	return cmd
}

func (a *app) enforceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enforce",
		Short: "Decide the runtime policy from the provisional state and latest governance",
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			overrideString(fs, "governance-dir", &a.cfg.Governance.OutDir)
			overrideString(fs, "out", &a.cfg.Paths.RuntimeState)
			if fs.Changed("fallback-policy") {
				name, _ := fs.GetString("fallback-policy")
				a.cfg.Runtime.FallbackPolicy = confidence.PolicyName(name)
			}
			overrideInt(fs, "min-ab-bets", &a.cfg.Runtime.MinConfidenceABBets)
			overrideString(fs, "metrics-textfile", &a.cfg.Paths.MetricsTextfile)
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			ctx := cmd.Context()

			// The ledger is connected before anything is written so a
			// failure leaves the previous runtime state in place.
			repo, err := a.openLedger(ctx)
			if err != nil {
				return err
			}
			if repo != nil {
				defer repo.Close()
			}

			store, closeStore, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			prov, err := store.LoadProvisional(ctx)
			if err != nil {
				return err
			}
			gov, govPath, err := governance.LoadLatest(a.cfg.Governance.OutDir)
			if err != nil {
				return err
			}

			state := policy.Evaluate(prov, gov, a.now(), a.cfg.Runtime)
			state.Source = policy.Source{ProvisionalState: a.cfg.Paths.ProvisionalState, GovernanceReport: govPath}
			if err := store.SaveRuntime(ctx, state); err != nil {
				return err
			}

			reg := metrics.New()
			reg.RecordRuntime(string(state.Action))
			a.writeTextfile(reg)

			if repo != nil {
				decision := &ledger.RuntimeDecision{
					CreatedAt:       state.CreatedAt,
					Action:          string(state.Action),
					ActivePolicy:    state.ActivePolicy,
					Reasons:         state.Reasons,
					GovernanceRunID: gov.RunID,
				}
				if err := repo.RecordRuntime(ctx, decision); err != nil {
					log.Warn().Err(err).Msg("Failed to record runtime decision in ledger")
				}
			}

			log.Info().
				Str("action", string(state.Action)).
				Str("active_policy", state.ActivePolicy).
				Strs("reasons", state.Reasons).
				Msg("Runtime policy enforced")
			a.printf("policy enforce: action=%s active_policy=%s reasons=%d state=%s\n",
				state.Action, state.ActivePolicy, len(state.Reasons), a.cfg.Paths.RuntimeState)
			return nil
		},
	}
	cmd.Flags().String("out", "", "Runtime state path")
	cmd.Flags().String("fallback-policy", "", "Policy used when governance needs attention")
	cmd.Flags().Int("min-ab-bets", 0, "Minimum A_B bets before the provisional policy is kept")
	cmd.Flags().String("metrics-textfile", "", "Write Prometheus textfile metrics here")
	return cmd
}
