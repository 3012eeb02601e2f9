package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"tradegate/internal/backtest"
	"tradegate/internal/models"
	"tradegate/internal/store"
	"tradegate/internal/strategy"
)

// newStrategyCmd groups strategy lifecycle commands.
func newStrategyCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategy",
		Short: "Create and run trading strategies",
	}
	cmd.AddCommand(
		newStrategyCreateCmd(app),
		newStrategyListCmd(app),
		newStrategyStartCmd(app),
		newStrategyStopCmd(app),
		newStrategyDeleteCmd(app),
		newStrategyRunCmd(app),
	)
	return cmd
}

func newStrategyCreateCmd(app *App) *cobra.Command {
	var (
		name       string
		templateID string
		accountID  string
		interval   string
		params     string
	)

	cmd := &cobra.Command{
		Use:   "create <strategy-id>",
		Short: "Create a strategy configuration",
		Long: `Create a strategy from one of the built-in templates:
  ` + strings.Join(strategy.TemplateIDs(), ", ") + `

Parameters are template-specific JSON, e.g.
  '{"symbol":"SBIN","fastSMA":9,"slowSMA":21,"quantity":5}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)

			valid := false
			for _, id := range strategy.TemplateIDs() {
				if id == templateID {
					valid = true
					break
				}
			}
			if !valid {
				return fmt.Errorf("unknown template %s (want one of %s)", templateID, strings.Join(strategy.TemplateIDs(), ", "))
			}
			if !json.Valid([]byte(params)) {
				return fmt.Errorf("params must be valid JSON")
			}
			if _, err := app.Store.GetAccount(cmd.Context(), accountID); err != nil {
				return err
			}

			record := &store.StrategyRecord{
				ID:         args[0],
				Name:       name,
				TemplateID: templateID,
				AccountID:  accountID,
				Interval:   models.Interval(interval),
				ParamsJSON: params,
			}
			if err := app.Store.SaveStrategy(cmd.Context(), record); err != nil {
				return err
			}
			out.Success("✓ Strategy %s created", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "display name")
	cmd.Flags().StringVarP(&templateID, "template", "t", strategy.TemplateSMACrossover, "strategy template id")
	cmd.Flags().StringVarP(&accountID, "account", "a", "", "linked account id (required)")
	cmd.Flags().StringVarP(&interval, "interval", "i", "5m", "candle interval")
	cmd.Flags().StringVarP(&params, "params", "p", "{}", "template parameters as JSON")
	cmd.MarkFlagRequired("account")
	return cmd
}

func newStrategyListCmd(app *App) *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List strategy configurations",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)

			records, err := app.Store.ListStrategies(cmd.Context(), activeOnly)
			if err != nil {
				return err
			}
			if out.IsJSON() {
				return out.JSON(records)
			}
			if len(records) == 0 {
				out.Dim("No strategies configured")
				return nil
			}

			color.Cyan("Strategies")
			for _, r := range records {
				state := out.Red("inactive")
				if app.Scheduler.Active(r.ID) {
					state = out.Green("running")
				} else if r.Active {
					state = out.Green("active")
				}
				out.Printf("  %-16s %-16s %-14s %-20s %s\n", r.ID, r.Name, r.TemplateID, r.AccountID, state)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&activeOnly, "active", false, "only show active strategies")
	return cmd
}

func toDefinition(r *store.StrategyRecord, account *store.BrokerAccount) strategy.Definition {
	return strategy.Definition{
		ID:         r.ID,
		Name:       r.Name,
		TemplateID: r.TemplateID,
		BrokerID:   account.BrokerID,
		AccountID:  r.AccountID,
		Interval:   r.Interval,
		Params:     json.RawMessage(r.ParamsJSON),
	}
}

func newStrategyStartCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "start <strategy-id>",
		Short: "Mark a strategy active and start its periodic task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)

			record, err := app.Store.GetStrategy(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			account, err := app.Store.GetAccount(cmd.Context(), record.AccountID)
			if err != nil {
				return err
			}

			if err := app.Scheduler.Start(toDefinition(record, account)); err != nil {
				return err
			}
			if err := app.Store.SetStrategyActive(cmd.Context(), record.ID, true); err != nil {
				return err
			}

			out.Success("✓ Strategy %s started", record.ID)
			return nil
		},
	}
}

func newStrategyStopCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <strategy-id>",
		Short: "Stop a strategy's periodic task and mark it inactive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)

			app.Scheduler.Stop(args[0])
			if err := app.Store.SetStrategyActive(cmd.Context(), args[0], false); err != nil {
				return err
			}
			out.Success("✓ Strategy %s stopped", args[0])
			return nil
		},
	}
}

func newStrategyDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <strategy-id>",
		Short: "Stop and delete a strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)

			// Deletion stops first.
			app.Scheduler.Stop(args[0])
			if err := app.Store.DeleteStrategy(cmd.Context(), args[0]); err != nil {
				return err
			}
			out.Success("✓ Strategy %s deleted", args[0])
			return nil
		},
	}
}

// newStrategyRunCmd resumes all active strategies and blocks until
// interrupted. This is the long-running mode for unattended operation.
func newStrategyRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Resume all active strategies and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)

			records, err := app.Store.ListStrategies(cmd.Context(), true)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				out.Dim("No active strategies to resume")
				return nil
			}

			for _, r := range records {
				account, err := app.Store.GetAccount(cmd.Context(), r.AccountID)
				if err != nil {
					app.Logger.Error().Err(err).Str("strategy", r.ID).Msg("Skipping strategy, account lookup failed")
					continue
				}
				if err := app.Scheduler.Start(toDefinition(&r, account)); err != nil {
					app.Logger.Error().Err(err).Str("strategy", r.ID).Msg("Failed to start strategy")
				}
			}

			out.Info("Running %d strategies — Ctrl-C to stop", app.Scheduler.ActiveCount())

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			out.Println()
			out.Info("Shutting down...")
			app.Scheduler.StopAll()
			return nil
		},
	}
}

// newBacktestCmd runs the SMA-crossover simulator over historical candles.
func newBacktestCmd(app *App) *cobra.Command {
	var (
		accountID string
		interval  string
		lookback  time.Duration
		capital   float64
		fast      int
		slow      int
	)

	cmd := &cobra.Command{
		Use:   "backtest <symbol>",
		Short: "Backtest an SMA-crossover strategy over historical candles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := args[0]
			out := NewOutput(cmd)

			iv := models.Interval(interval)
			if !iv.Valid() {
				return fmt.Errorf("invalid interval %s (want 1m, 5m, 15m, 1h or 1d)", interval)
			}

			account, err := app.Store.GetAccount(cmd.Context(), accountID)
			if err != nil {
				return err
			}
			client, err := app.Registry.Get(account.BrokerID)
			if err != nil {
				return err
			}

			to := time.Now()
			series, err := client.GetHistoricalCandles(cmd.Context(), accountID, symbol, iv, to.Add(-lookback), to)
			if err != nil {
				return err
			}
			if series.Synthetic {
				out.Warning("⚠ Backtest running on synthetic data")
			}

			result, err := app.Backtest.Run(backtest.Request{
				Symbol:         symbol,
				Interval:       iv,
				InitialCapital: decimal.NewFromFloat(capital),
				FastPeriod:     fast,
				SlowPeriod:     slow,
			}, series.Candles)
			if err != nil {
				return err
			}

			if out.IsJSON() {
				return out.JSON(result)
			}

			color.Cyan("Backtest — %s SMA(%d/%d) on %d candles", symbol, fast, slow, len(series.Candles))
			out.Printf("Trades:         %d (%d won, %d lost)\n", result.TotalTrades, result.WinningTrades, result.LosingTrades)
			out.Printf("Win rate:       %.2f%%\n", result.WinRate)
			out.Printf("Capital:        %s -> %s\n", result.InitialCapital.StringFixed(2), result.FinalCapital.StringFixed(2))
			ret := fmt.Sprintf("%s (%s%%)", result.TotalReturn.StringFixed(2), result.ReturnPercent.StringFixed(2))
			if result.TotalReturn.IsNegative() {
				out.Printf("Return:         %s\n", out.Red(ret))
			} else {
				out.Printf("Return:         %s\n", out.Green(ret))
			}
			out.Printf("Profit factor:  %s\n", result.ProfitFactor.StringFixed(2))
			return nil
		},
	}

	cmd.Flags().StringVarP(&accountID, "account", "a", "", "account to fetch candles through (required)")
	cmd.Flags().StringVarP(&interval, "interval", "i", "5m", "candle interval")
	cmd.Flags().DurationVarP(&lookback, "lookback", "l", 30*24*time.Hour, "history window")
	cmd.Flags().Float64Var(&capital, "capital", 100000, "initial capital")
	cmd.Flags().IntVar(&fast, "fast", 9, "fast SMA period")
	cmd.Flags().IntVar(&slow, "slow", 21, "slow SMA period")
	cmd.MarkFlagRequired("account")
	return cmd
}
