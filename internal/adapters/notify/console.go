package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/autotune"
	"github.com/alejandrodnm/kalshibot/internal/backtest"
	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ledger"
	"github.com/olekukonko/tablewriter"
)

// Console implements ports.Notifier by printing to stdout. Compact mode
// prints one line per cycle; table mode prints per-contract diagnostics.
type Console struct {
	out   io.Writer
	table bool
}

func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter targets an arbitrary writer, for tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// NotifySignals prints the signals evaluated this cycle.
func (c *Console) NotifySignals(_ context.Context, signals []domain.Signal) error {
	now := time.Now().Format("15:04:05")
	if len(signals) == 0 {
		fmt.Fprintf(c.out, "[%s] no contracts evaluated\n", now)
		return nil
	}

	recommended := 0
	for _, s := range signals {
		if s.Rec != nil {
			recommended++
		}
	}

	if !c.table {
		c.printCompact(now, signals, recommended)
		return nil
	}

	fmt.Fprintf(c.out, "\n[%s] %d contracts evaluated — %d recommended\n",
		now, len(signals), recommended)
	c.printTable(signals)
	return nil
}

// NotifyCycle prints the end-of-cycle summary line.
func (c *Console) NotifyCycle(_ context.Context, summary string) error {
	fmt.Fprintf(c.out, "[%s] %s\n", time.Now().Format("15:04:05"), summary)
	return nil
}

func (c *Console) printCompact(now string, signals []domain.Signal, recommended int) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %d contracts → rec:%d", now, len(signals), recommended)

	shown := 0
	for _, s := range signals {
		if s.Rec == nil || shown >= 4 {
			continue
		}
		fmt.Fprintf(&sb, " | %s %s $%.2f x%d fair %.3f",
			s.Ticker, s.Rec.Side, s.Rec.Price, s.Rec.Count, s.FairYes)
		shown++
	}
	fmt.Fprintln(c.out, sb.String())
}

func (c *Console) printTable(signals []domain.Signal) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Ticker", "Ref", "Sigma", "Fair(Y)", "Ask Y/N", "Eff bps", "Side", "Blocked by")

	for _, s := range signals {
		side, best, rec := "-", domain.SideEval{}, ""
		if bSide, bEval, ok := s.Best(); ok {
			side, best = string(bSide), bEval
		}
		if s.Rec != nil {
			rec = string(s.Rec.Side)
		}

		effLabel := "-"
		if side != "-" {
			effLabel = fmt.Sprintf("%.0f", best.EffectiveBps)
		}

		table.Append(
			s.Ticker,
			fmt.Sprintf("%.0f", s.RefPrice),
			fmt.Sprintf("%.2f", s.Sigma),
			fmt.Sprintf("%.3f", s.FairYes),
			fmt.Sprintf("%.2f/%.2f", s.Yes.Ask, s.No.Ask),
			effLabel,
			rec,
			rejectLabel(s),
		)
	}
	table.Render()
}

// rejectLabel summarizes why nothing was recommended: the rejections of the
// side that came closest, deduplicated.
func rejectLabel(s domain.Signal) string {
	if s.Rec != nil {
		return ""
	}
	side := s.Yes
	if s.No.EffectiveBps > s.Yes.EffectiveBps {
		side = s.No
	}
	seen := make(map[domain.RejectReason]bool)
	var parts []string
	for _, r := range side.Rejections {
		if !seen[r] {
			seen[r] = true
			parts = append(parts, string(r))
		}
	}
	return strings.Join(parts, ",")
}

// PrintReport prints the settlement-derived performance report.
func (c *Console) PrintReport(r ledger.Report) {
	fmt.Fprintf(c.out, "\n=== PERFORMANCE %s → %s ===\n",
		r.From.Format("2006-01-02"), r.To.Format("2006-01-02"))
	fmt.Fprintf(c.out, "  Placed: %d  Filled: %d  Settled: %d\n", r.Placed, r.Filled, r.Settled)

	if r.Settled == 0 {
		fmt.Fprintln(c.out, "  No settled orders in the window yet.")
		return
	}

	fmt.Fprintf(c.out, "  Win rate:    %.1f%% (implied %.1f%%)\n", r.WinRate*100, r.AvgImplied*100)
	fmt.Fprintf(c.out, "  Brier:       %.4f\n", r.Brier)
	fmt.Fprintf(c.out, "  PnL:         $%.2f ($%.4f/trade)\n", r.PnL, r.PerTradePnL())
	fmt.Fprintf(c.out, "  Avg entry:   eff %.0f bps, fair %.3f\n", r.AvgEffectiveBps, r.AvgFairProb)

	c.printBuckets("By shape", r.ByShape)
	c.printBuckets("By time to expiry", r.ByTTE)
	c.printBuckets("By strike distance", r.ByStrikeD)
	fmt.Fprintln(c.out)
}

func (c *Console) printBuckets(title string, buckets map[string]ledger.BucketStats) {
	if len(buckets) == 0 {
		return
	}
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(c.out, "\n  %s:\n", title)
	table := tablewriter.NewWriter(c.out)
	table.Header("Bucket", "Settled", "Win rate", "PnL")
	for _, k := range keys {
		b := buckets[k]
		table.Append(
			k,
			fmt.Sprintf("%d", b.Settled),
			fmt.Sprintf("%.1f%%", b.WinRate()*100),
			fmt.Sprintf("$%.2f", b.PnL),
		)
	}
	table.Render()
}

// PrintBacktest prints the walk-forward backtest report.
func (c *Console) PrintBacktest(r backtest.Report) {
	fmt.Fprintf(c.out, "\n=== BACKTEST %s → %s ===\n",
		r.From.Format("2006-01-02"), r.To.Format("2006-01-02"))

	if r.Overall.Trades == 0 {
		fmt.Fprintln(c.out, "  No settled trades inside the lookback window.")
		return
	}

	fmt.Fprintf(c.out, "  Trades: %d  Wins: %d (%.1f%%)  Notional: $%.2f\n",
		r.Overall.Trades, r.Overall.Wins, r.Overall.WinRate*100, r.Overall.Notional)
	fmt.Fprintf(c.out, "  PnL raw: $%.2f   PnL after fees+slippage: $%.2f\n",
		r.Overall.PnLRaw, r.Overall.PnLAdjusted)
	if r.Discarded > 0 {
		fmt.Fprintf(c.out, "  Discarded (outside window): %d\n", r.Discarded)
	}

	c.printBacktestBuckets("By asset", r.ByAsset)
	c.printBacktestBuckets("By side", r.BySide)
	c.printBacktestBuckets("By time to expiry", r.ByTTE)

	if len(r.Folds) > 0 {
		fmt.Fprintln(c.out, "\n  Walk-forward folds:")
		table := tablewriter.NewWriter(c.out)
		table.Header("Fold", "Train", "Test", "Test win", "Test PnL adj", "Note")
		for _, f := range r.Folds {
			note := ""
			if f.Skipped {
				note = "skipped (thin)"
			}
			table.Append(
				fmt.Sprintf("%d", f.Index),
				fmt.Sprintf("%d", f.TrainRows),
				fmt.Sprintf("%d", f.TestRows),
				fmt.Sprintf("%.1f%%", f.Test.WinRate*100),
				fmt.Sprintf("$%.2f", f.Test.PnLAdjusted),
				note,
			)
		}
		table.Render()
	}
	fmt.Fprintln(c.out)
}

func (c *Console) printBacktestBuckets(title string, buckets map[string]backtest.Summary) {
	if len(buckets) == 0 {
		return
	}
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(c.out, "\n  %s:\n", title)
	table := tablewriter.NewWriter(c.out)
	table.Header("Bucket", "Trades", "Win rate", "PnL adj")
	for _, k := range keys {
		s := buckets[k]
		table.Append(
			k,
			fmt.Sprintf("%d", s.Trades),
			fmt.Sprintf("%.1f%%", s.WinRate*100),
			fmt.Sprintf("$%.2f", s.PnLAdjusted),
		)
	}
	table.Render()
}

// PrintTunerStatus prints the champion parameters and, when a challenger is
// under evaluation, the staged changes and baseline.
func (c *Console) PrintTunerStatus(st autotune.State) {
	fmt.Fprintf(c.out, "\n=== PARAMETER TUNER — %s ===\n", st.Phase)
	c.printParams("Champion", st.Champion)

	if st.Phase == autotune.PhaseEvaluating && st.Challenger != nil {
		c.printParams("Challenger", *st.Challenger)
		fmt.Fprintf(c.out, "  Staged: %s (baseline: %d settled, win %.1f%%, pnl $%.4f/trade)\n",
			st.StagedAt.Format("2006-01-02 15:04"),
			st.Baseline.Settled, st.Baseline.WinRate*100, st.Baseline.PerTradePnL)
	}

	if len(st.History) > 0 {
		fmt.Fprintln(c.out, "\n  Recent transitions:")
		start := len(st.History) - 5
		if start < 0 {
			start = 0
		}
		for _, tr := range st.History[start:] {
			fmt.Fprintf(c.out, "    %s  %-12s %s\n",
				tr.At.Format("2006-01-02 15:04"), tr.Event, tr.Detail)
		}
	}
	fmt.Fprintln(c.out)
}

func (c *Console) printParams(label string, p domain.TradingParams) {
	fmt.Fprintf(c.out, "  %-10s min_edge=%.0fbps buffer=%.0fbps persist=%d\n",
		label, p.MinEdgeBps, p.BufferBps, p.PersistCycles)
}
