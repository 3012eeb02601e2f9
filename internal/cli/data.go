package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tradegate/internal/models"
)

// newCandlesCmd fetches historical candles through an account's broker.
func newCandlesCmd(app *App) *cobra.Command {
	var (
		interval string
		lookback time.Duration
		cache    bool
	)

	cmd := &cobra.Command{
		Use:   "candles <account-id> <symbol>",
		Short: "Fetch historical OHLCV candles",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, symbol := args[0], args[1]
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
			from := to.Add(-lookback)
			series, err := client.GetHistoricalCandles(cmd.Context(), accountID, symbol, iv, from, to)
			if err != nil {
				return err
			}

			if cache && !series.Synthetic {
				if err := app.Store.SaveCandles(cmd.Context(), symbol, iv, series.Candles); err != nil {
					app.Logger.Warn().Err(err).Msg("Failed to cache candles")
				}
			}

			if out.IsJSON() {
				return out.JSON(series)
			}

			if series.Synthetic {
				out.Warning("⚠ Synthetic data — upstream returned no candles")
			}
			color.Cyan("%s %s — %d candles", symbol, interval, len(series.Candles))
			for _, c := range series.Candles {
				out.Printf("  %s  O %-9.2f H %-9.2f L %-9.2f C %-9.2f V %d\n",
					c.Timestamp.Format("2006-01-02 15:04"), c.Open, c.High, c.Low, c.Close, c.Volume)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&interval, "interval", "i", "5m", "candle interval: 1m, 5m, 15m, 1h, 1d")
	cmd.Flags().DurationVarP(&lookback, "lookback", "l", 6*time.Hour, "how far back to fetch")
	cmd.Flags().BoolVar(&cache, "cache", false, "cache fetched candles locally")
	return cmd
}

// newStreamCmd subscribes to live ticks and prints them until interrupted.
func newStreamCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stream <account-id> <instrument-token>",
		Short: "Stream live ticks for an instrument",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, token := args[0], args[1]
			out := NewOutput(cmd)

			account, err := app.Store.GetAccount(cmd.Context(), accountID)
			if err != nil {
				return err
			}
			client, err := app.Registry.Get(account.BrokerID)
			if err != nil {
				return err
			}

			sub, err := client.StreamTicks(cmd.Context(), accountID, token)
			if err != nil {
				return err
			}
			defer sub.Cancel()

			out.Info("Streaming %s — Ctrl-C to stop", token)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			for {
				select {
				case <-sigCh:
					return nil
				case <-cmd.Context().Done():
					return nil
				case tick, ok := <-sub.C:
					if !ok {
						out.Warning("Stream closed")
						return nil
					}
					out.Printf("%s  ltp %-10.2f bid %-10.2f ask %-10.2f vol %d\n",
						tick.Timestamp.Format("15:04:05"), tick.LastPrice, tick.Bid, tick.Ask, tick.Volume)
				}
			}
		},
	}
}

// newInstrumentsCmd manages the local security master.
func newInstrumentsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instruments",
		Short: "Manage the local security master",
	}

	var url, file string
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Download or load the security master CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)

			var err error
			if file != "" {
				err = app.Instruments.LoadFile(file)
			} else {
				err = app.Instruments.Download(cmd.Context(), url)
			}
			if err != nil {
				return err
			}
			out.Success("✓ Loaded %d instruments", app.Instruments.Len())
			return nil
		},
	}
	syncCmd.Flags().StringVar(&url, "url", "", "security master URL (defaults to the Dhan scrip master)")
	syncCmd.Flags().StringVarP(&file, "file", "f", "", "load from a local CSV instead of downloading")

	lookupCmd := &cobra.Command{
		Use:   "lookup <symbol>",
		Short: "Resolve a trading symbol to its security id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			inst, ok := app.Instruments.Lookup(args[0])
			if !ok {
				out.Warning("Symbol %s not found (run 'instruments sync' first)", args[0])
				return nil
			}
			if out.IsJSON() {
				return out.JSON(inst)
			}
			out.Printf("Symbol:      %s\n", inst.Symbol)
			out.Printf("Name:        %s\n", inst.Name)
			out.Printf("Security ID: %s\n", inst.SecurityID)
			out.Printf("Segment:     %s\n", inst.ExchangeSegment)
			out.Printf("Lot size:    %d\n", inst.LotSize)
			return nil
		},
	}

	cmd.AddCommand(syncCmd, lookupCmd)
	return cmd
}
