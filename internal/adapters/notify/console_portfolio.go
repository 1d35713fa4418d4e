package notify

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// NotifyPortfolio imprime las posiciones de una cuenta valoradas a mercado.
func (c *Console) NotifyPortfolio(_ context.Context, p domain.Portfolio) error {
	fmt.Fprintf(c.out, "\n========================================================\n")
	fmt.Fprintf(c.out, "  PORTFOLIO %s  (%s)\n", p.Account, c.now().Format("2006-01-02 15:04"))
	fmt.Fprintf(c.out, "========================================================\n\n")

	if len(p.Entries) == 0 {
		fmt.Fprintln(c.out, "  No open positions.")
	} else {
		tbl := tablewriter.NewWriter(c.out)
		tbl.Header("Market", "St", "YES", "NO", "LP", "Price Y/N", "Cost", "Value", "PnL")
		for _, e := range p.Entries {
			pos := e.Position
			tbl.Append(
				domain.TruncateTitle(e.Title, pos.MarketID, 30),
				string(e.Status),
				pos.Yes.StringFixed(2),
				pos.No.StringFixed(2),
				pos.LPShares.StringFixed(2),
				fmt.Sprintf("%s/%s", e.Prices.Yes.StringFixed(3), e.Prices.No.StringFixed(3)),
				money(pos.CostBasis()),
				money(e.Value),
				money(e.UnrealizedPnL),
			)
		}
		tbl.Render()
	}

	fmt.Fprintf(c.out, "\n  --- SUMMARY ---\n")
	fmt.Fprintf(c.out, "  Balance:       %s\n", money(p.Balance))
	fmt.Fprintf(c.out, "  Positions:     %d\n", len(p.Entries))
	fmt.Fprintf(c.out, "  Cost basis:    %s\n", money(p.CostBasis))
	fmt.Fprintf(c.out, "  Market value:  %s\n", money(p.Value))
	fmt.Fprintf(c.out, "  Unrealized:    %s\n", money(p.PnL))
	fmt.Fprintf(c.out, "  Total equity:  %s\n", money(p.Balance.Add(p.Value)))
	fmt.Fprintln(c.out)
	return nil
}

// PrintTrades imprime el historial de trades, el más reciente primero.
func (c *Console) PrintTrades(trades []domain.Trade) {
	if len(trades) == 0 {
		fmt.Fprintln(c.out, "\n  No trades yet.")
		return
	}
	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("Time", "Account", "Action", "Side", "Shares", "Amount", "Avg", "Fee")
	for _, t := range trades {
		tbl.Append(
			t.At.Format("01-02 15:04:05"),
			truncate(t.Account, 16),
			string(t.Action),
			string(t.Side),
			t.Shares.StringFixed(4),
			money(t.Amount),
			t.Price.StringFixed(4),
			t.Fee.StringFixed(4),
		)
	}
	tbl.Render()
}
