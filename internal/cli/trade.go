package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"tradegate/internal/errors"
	"tradegate/internal/models"
	"tradegate/internal/store"
)

// newOrderCmd groups order placement and management.
func newOrderCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place and manage orders",
	}
	cmd.AddCommand(
		newOrderPlaceCmd(app),
		newOrderCancelCmd(app),
		newOrderStatusCmd(app),
		newOrderHistoryCmd(app),
	)
	return cmd
}

func newOrderPlaceCmd(app *App) *cobra.Command {
	var (
		side      string
		qty       int64
		price     float64
		orderType string
		tif       string
		meta      []string
	)

	cmd := &cobra.Command{
		Use:   "place <account-id> <symbol>",
		Short: "Place an order through the account's broker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, symbol := args[0], args[1]
			out := NewOutput(cmd)

			// Reject malformed flag values before any lookups.
			switch models.OrderSide(strings.ToUpper(side)) {
			case models.OrderSideBuy, models.OrderSideSell:
			default:
				return errors.Wrapf(errors.ErrInvalidOrder, "unknown side %q", side)
			}
			switch models.OrderType(strings.ToUpper(orderType)) {
			case models.OrderTypeMarket, models.OrderTypeLimit:
			default:
				return errors.Wrapf(errors.ErrInvalidOrder, "unknown order type %q", orderType)
			}

			account, err := app.Store.GetAccount(cmd.Context(), accountID)
			if err != nil {
				return err
			}
			client, err := app.Registry.Get(account.BrokerID)
			if err != nil {
				return err
			}

			req := models.OrderRequest{
				ClientOrderID: uuid.NewString(),
				Symbol:        symbol,
				Side:          models.OrderSide(strings.ToUpper(side)),
				Quantity:      decimal.NewFromInt(qty),
				Type:          models.OrderType(strings.ToUpper(orderType)),
				TimeInForce:   models.TimeInForce(strings.ToUpper(tif)),
				Meta:          parseMeta(meta),
			}
			if price > 0 {
				p := decimal.NewFromFloat(price)
				req.Price = &p
			}

			resp, err := client.PlaceOrder(cmd.Context(), accountID, req)

			// Audit every submission attempt that produced a response.
			if resp.Status != "" {
				record := &store.OrderRecord{
					ID:        req.ClientOrderID,
					AccountID: accountID,
					BrokerID:  account.BrokerID,
					Symbol:    symbol,
					Side:      string(req.Side),
					Quantity:  req.Quantity,
					Status:    resp.Status,
					Message:   resp.Message,
					PlacedAt:  time.Now(),
				}
				if req.Price != nil {
					record.Price = *req.Price
				}
				if logErr := app.Store.LogOrder(cmd.Context(), record); logErr != nil {
					app.Logger.Warn().Err(logErr).Msg("Failed to log order")
				}
			}

			if err != nil {
				if resp.Status == models.OrderStatusRejected {
					out.Error("✗ Order rejected: %s", resp.Message)
				}
				return err
			}

			if out.IsJSON() {
				return out.JSON(resp)
			}
			out.Success("✓ Order placed: %s", resp.OrderID)
			if resp.Message != "" {
				out.Dim("  %s", resp.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&side, "side", "s", "BUY", "order side: BUY or SELL")
	cmd.Flags().Int64VarP(&qty, "quantity", "q", 1, "order quantity")
	cmd.Flags().Float64VarP(&price, "price", "p", 0, "limit price (required for LIMIT orders)")
	cmd.Flags().StringVarP(&orderType, "type", "t", "MARKET", "order type: MARKET or LIMIT")
	cmd.Flags().StringVar(&tif, "tif", "IOC", "time in force: GTC, IOC or FOK")
	cmd.Flags().StringArrayVarP(&meta, "meta", "m", nil, "broker-specific extras as key=value")
	return cmd
}

// parseMeta converts key=value pairs into the request meta map.
func parseMeta(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	m := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		if k, v, ok := strings.Cut(pair, "="); ok {
			m[k] = v
		}
	}
	return m
}

func newOrderCancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <account-id> <order-id>",
		Short: "Cancel a working order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, orderID := args[0], args[1]
			out := NewOutput(cmd)

			account, err := app.Store.GetAccount(cmd.Context(), accountID)
			if err != nil {
				return err
			}
			client, err := app.Registry.Get(account.BrokerID)
			if err != nil {
				return err
			}
			if !client.Capabilities().Has(models.CapabilityCancelOrder) {
				return fmt.Errorf("broker %s does not support order cancellation", account.BrokerID)
			}

			if err := client.CancelOrder(cmd.Context(), accountID, orderID); err != nil {
				return err
			}
			out.Success("✓ Order %s cancelled", orderID)
			return nil
		},
	}
}

func newOrderStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status <account-id> <order-id>",
		Short: "Fetch the broker's status for an order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, orderID := args[0], args[1]
			out := NewOutput(cmd)

			account, err := app.Store.GetAccount(cmd.Context(), accountID)
			if err != nil {
				return err
			}
			client, err := app.Registry.Get(account.BrokerID)
			if err != nil {
				return err
			}

			status, err := client.GetOrderStatus(cmd.Context(), accountID, orderID)
			if err != nil {
				return err
			}

			if out.IsJSON() {
				return out.JSON(status)
			}
			out.Printf("Order:  %s\n", status.OrderID)
			out.Printf("Status: %s\n", status.Status)
			out.Printf("Filled: %s @ %s\n", status.FilledQty.String(), status.AvgFillPrice.String())
			return nil
		},
	}
}

func newOrderHistoryCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <account-id>",
		Short: "Show the local order audit log for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)

			records, err := app.Store.GetOrders(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if out.IsJSON() {
				return out.JSON(records)
			}
			if len(records) == 0 {
				out.Dim("No orders recorded")
				return nil
			}

			color.Cyan("Order history")
			for _, r := range records {
				status := out.Green(r.Status)
				if r.Status == models.OrderStatusRejected {
					status = out.Red(r.Status)
				}
				out.Printf("  %s  %-12s %-4s %8s @ %-10s %s\n",
					r.PlacedAt.Format("2006-01-02 15:04"),
					r.Symbol, r.Side, r.Quantity.String(), r.Price.String(), status)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum records to show")
	return cmd
}

// newPositionsCmd fetches the live position snapshot.
func newPositionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "positions <account-id>",
		Short: "Fetch open positions for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID := args[0]
			out := NewOutput(cmd)

			account, err := app.Store.GetAccount(cmd.Context(), accountID)
			if err != nil {
				return err
			}
			client, err := app.Registry.Get(account.BrokerID)
			if err != nil {
				return err
			}

			positions, err := client.GetPositions(cmd.Context(), accountID)
			if err != nil {
				return err
			}

			if out.IsJSON() {
				return out.JSON(positions)
			}
			if len(positions) == 0 {
				out.Dim("No open positions")
				return nil
			}

			color.Cyan("Open positions — %s", accountID)
			for _, p := range positions {
				pnl := out.Green(p.PnL.StringFixed(2))
				if p.PnL.IsNegative() {
					pnl = out.Red(p.PnL.StringFixed(2))
				}
				out.Printf("  %-14s %-10s qty %8s  avg %-10s ltp %-10s pnl %s\n",
					p.Symbol, p.ProductType, p.NetQuantity.String(),
					p.AvgPrice.StringFixed(2), p.LastTradedPrice.StringFixed(2), pnl)
			}
			return nil
		},
	}
}
