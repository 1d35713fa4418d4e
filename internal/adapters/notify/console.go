package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
)

// Console implementa ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
	now   func() time.Time
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table, now: time.Now}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table, now: time.Now}
}

// NotifyMarkets imprime el tablero de mercados en el modo configurado.
func (c *Console) NotifyMarkets(_ context.Context, markets []domain.MarketView) error {
	if len(markets) == 0 {
		fmt.Fprintf(c.out, "[%s] no markets\n", c.now().Format("15:04:05"))
		return nil
	}

	if c.table {
		c.printFull(markets)
	} else {
		c.printCompact(markets)
	}
	return nil
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(markets []domain.MarketView) {
	now := c.now().Format("15:04:05")
	active, pending, disputed, closed := countByStatus(markets)

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %d mkts → A:%d P:%d D:%d closed:%d", now, len(markets), active, pending, disputed, closed)

	shown := 0
	for _, v := range markets {
		if shown >= 4 {
			break
		}
		if v.Market.Status.Final() {
			continue
		}
		fmt.Fprintf(&sb, " | %s %s YES %s vol %s",
			statusIcon(v.Market), compactName(v.Market.Title, 25),
			v.Prices.Yes.StringFixed(3), money(v.Pool.Volume))
		shown++
	}

	fmt.Fprintln(c.out, sb.String())
}

// printFull imprime la tabla completa con precios y estado de resolución.
func (c *Console) printFull(markets []domain.MarketView) {
	now := c.now()
	active, pending, disputed, closed := countByStatus(markets)

	fmt.Fprintf(c.out, "\n[%s] %d markets · active:%d proposed:%d disputed:%d closed:%d\n",
		now.Format("15:04:05"), len(markets), active, pending, disputed, closed)

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "St", "Market", "Category", "YES", "NO", "Liquidity", "Volume", "Trades", "Ends")

	for i, v := range markets {
		table.Append(
			fmt.Sprintf("%d", i+1),
			statusIcon(v.Market),
			domain.TruncateTitle(v.Market.Title, v.Market.ID, 38),
			v.Market.Category,
			v.Prices.Yes.StringFixed(4),
			v.Prices.No.StringFixed(4),
			money(v.Pool.LiquidityValue()),
			money(v.Pool.Volume),
			fmt.Sprintf("%d", v.Pool.TradeCount),
			endLabel(v.Market, now),
		)
	}
	table.Render()

	fmt.Fprintln(c.out, "  St: A=active P=proposal pending D=disputed R=resolved X=cancelled, * = graduated")
	c.printProposals(markets, now)
}

// printProposals lista las propuestas abiertas con su ventana restante.
func (c *Console) printProposals(markets []domain.MarketView, now time.Time) {
	var open []string
	for _, v := range markets {
		for _, p := range v.Proposals {
			if !p.Status.Open() {
				continue
			}
			left := p.DisputeDeadline.Sub(now).Truncate(time.Minute)
			window := "window closed"
			if left > 0 {
				window = fmt.Sprintf("%v left", left)
			}
			open = append(open, fmt.Sprintf("  %-8s %-30s %-3s deposit %s  %s",
				p.Status, truncate(v.Market.Title, 30), p.Outcome, p.Deposit.StringFixed(2), window))
		}
	}
	if len(open) == 0 {
		return
	}
	fmt.Fprintf(c.out, "\n── OPEN PROPOSALS (%d) ──\n", len(open))
	for _, line := range open {
		fmt.Fprintln(c.out, line)
	}
	fmt.Fprintln(c.out)
}

// --- helpers ---

func countByStatus(markets []domain.MarketView) (active, pending, disputed, closed int) {
	for _, v := range markets {
		switch v.Market.Status {
		case domain.StatusActive:
			active++
		case domain.StatusProposalPending:
			pending++
		case domain.StatusDisputed:
			disputed++
		default:
			closed++
		}
	}
	return
}

func statusIcon(m domain.Market) string {
	icon := "?"
	switch m.Status {
	case domain.StatusActive:
		icon = "A"
	case domain.StatusProposalPending:
		icon = "P"
	case domain.StatusDisputed:
		icon = "D"
	case domain.StatusResolved:
		icon = "R"
	case domain.StatusCancelled:
		icon = "X"
	}
	if m.Graduated {
		icon += "*"
	}
	return icon
}

func endLabel(m domain.Market, now time.Time) string {
	if m.EndTime.IsZero() {
		return "-"
	}
	if m.Status == domain.StatusResolved {
		return "→ " + string(m.Outcome)
	}
	left := m.EndTime.Sub(now)
	if left > 0 && left < 48*time.Hour {
		return fmt.Sprintf("%s (!%.0fh)", m.EndTime.Format("01-02"), left.Hours())
	}
	return m.EndTime.Format("2006-01-02")
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func compactName(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := s[:maxLen]
	if idx := strings.LastIndex(cut, " "); idx > maxLen/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}
