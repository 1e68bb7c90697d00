package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/calyxlabs/calyx/internal/catalog"
	"github.com/calyxlabs/calyx/internal/config"
	"github.com/calyxlabs/calyx/internal/model"
	"github.com/calyxlabs/calyx/internal/progression"
)

// withRuntime loads config, builds the runtime, runs fn, and tears down.
func withRuntime(fn func(ctx context.Context, rt *runtime) error) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg, logger, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	return fn(context.Background(), rt)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var sweepGrantsCmd = &cobra.Command{
	Use:     "sweep-grants",
	Short:   "Deactivate expired tier grants",
	GroupID: "admin",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(ctx context.Context, rt *runtime) error {
			n, err := rt.tiers.SweepExpired(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(map[string]int64{"deactivated": n})
			}
			fmt.Printf("Deactivated %d expired grant(s)\n", n)
			return nil
		})
	},
}

var usageTier string

var usageCmd = &cobra.Command{
	Use:     "usage <user-id>",
	Short:   "Show a user's usage against their limits",
	GroupID: "admin",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(ctx context.Context, rt *runtime) error {
			userID := args[0]

			base := model.ParseTier(usageTier)
			effective, err := rt.tiers.EffectiveTier(ctx, userID, base)
			if err != nil {
				return err
			}
			snap, err := rt.counter.Snapshot(ctx, userID, effective, rt.catalog)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]any{
					"user_id":   userID,
					"tier":      effective,
					"resources": snap,
				})
			}

			fmt.Printf("User %s (tier %s)\n", userID, effective)
			for _, ru := range snap {
				limit := fmt.Sprintf("%d", ru.Limit)
				if model.IsUnlimited(ru.Limit) {
					limit = "unlimited"
				}
				fmt.Printf("  %-18s %-8s %d / %s\n", ru.Kind, ru.Window, ru.Used, limit)
			}
			return nil
		})
	},
}

var (
	stageAdvance      bool
	stageTier         string
	stageTrust        float64
	stageInteractions int64
)

var stageCmd = &cobra.Command{
	Use:     "stage [user-id agent-id]",
	Short:   "Show, re-evaluate, or compute a relationship stage",
	GroupID: "admin",
	Args:    cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Compute mode needs only the catalog, not the store.
		if cmd.Flags().Changed("trust") || cmd.Flags().Changed("interactions") {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cat := catalog.Default()
			if cfg.CatalogPath != "" {
				if cat, err = catalog.LoadFile(cfg.CatalogPath); err != nil {
					return err
				}
			}
			tr := progression.NewTracker(nil, cat, nil)
			stage := tr.ComputeStage(stageTrust, stageInteractions, model.ParseTier(stageTier))
			if jsonOutput {
				return printJSON(map[string]any{
					"trust":        stageTrust,
					"interactions": stageInteractions,
					"tier":         model.ParseTier(stageTier),
					"stage":        stage,
				})
			}
			fmt.Printf("%s\n", stage)
			return nil
		}

		if len(args) != 2 {
			return fmt.Errorf("stage requires <user-id> <agent-id> (or --trust/--interactions)")
		}
		return withRuntime(func(ctx context.Context, rt *runtime) error {
			userID, agentID := args[0], args[1]

			if stageAdvance {
				tier, err := rt.tiers.EffectiveTier(ctx, userID, model.ParseTier(stageTier))
				if err != nil {
					return err
				}
				res, err := rt.bonds.Advance(ctx, userID, agentID, tier)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(res)
				}
				if res.Advanced {
					fmt.Printf("Bond advanced: %s -> %s\n", res.From, res.To)
				} else {
					fmt.Printf("Bond unchanged at %s\n", res.Bond.CurrentStage)
				}
				return nil
			}

			bond, err := rt.bonds.Bond(ctx, userID, agentID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(bond)
			}
			fmt.Printf("Bond %s/%s\n", bond.UserID, bond.AgentID)
			fmt.Printf("  stage:        %s\n", bond.CurrentStage)
			fmt.Printf("  trust:        %.2f\n", bond.Trust)
			fmt.Printf("  interactions: %d\n", bond.TotalInteractions)
			return nil
		})
	},
}

var (
	grantName     string
	grantBase     string
	grantDuration time.Duration
)

var grantCmd = &cobra.Command{
	Use:     "grant <user-id> <event-id> <to-tier>",
	Short:   "Activate a promotional tier grant",
	GroupID: "admin",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(ctx context.Context, rt *runtime) error {
			userID, eventID := args[0], args[1]
			to := model.Tier(args[2])
			if !to.IsValid() {
				return fmt.Errorf("unknown tier %q", args[2])
			}

			grant, err := rt.tiers.ActivateGrant(ctx, userID, eventID, grantName,
				model.ParseTier(grantBase), to, grantDuration)
			if err != nil {
				if _, ok := model.IsAlreadyUsed(err); ok {
					fmt.Printf("Grant for event %s already used by %s\n", eventID, userID)
					return nil
				}
				return err
			}
			if jsonOutput {
				return printJSON(grant)
			}
			fmt.Printf("Granted %s -> %s for %s (expires %s)\n",
				grant.FromTier, grant.ToTier, userID, grant.ExpiresAt.Format(time.RFC3339))
			return nil
		})
	},
}

var cooldownResetCmd = &cobra.Command{
	Use:     "cooldown-reset <user-id> [action-kind]",
	Short:   "Clear a user's cooldown marks",
	GroupID: "admin",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(ctx context.Context, rt *runtime) error {
			kind := ""
			if len(args) == 2 {
				kind = args[1]
			}
			rt.cooldowns.Reset(ctx, args[0], kind)
			if kind == "" {
				fmt.Printf("Cleared all cooldowns for %s\n", args[0])
			} else {
				fmt.Printf("Cleared %s cooldown for %s\n", kind, args[0])
			}
			return nil
		})
	},
}

func init() {
	usageCmd.Flags().StringVar(&usageTier, "tier", "free", "base subscription tier")
	stageCmd.Flags().BoolVar(&stageAdvance, "advance", false, "re-evaluate the bond at the user's tier")
	stageCmd.Flags().StringVar(&stageTier, "tier", "free", "base subscription tier")
	stageCmd.Flags().Float64Var(&stageTrust, "trust", 0, "compute a stage from this trust score")
	stageCmd.Flags().Int64Var(&stageInteractions, "interactions", 0, "interaction count for --trust")
	grantCmd.Flags().StringVar(&grantName, "name", "", "human-readable event name")
	grantCmd.Flags().StringVar(&grantBase, "base", "free", "user's base tier")
	grantCmd.Flags().DurationVar(&grantDuration, "duration", 0, "grant duration (default 48h)")
}
