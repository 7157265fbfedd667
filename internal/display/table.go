package display

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"ammscope/internal/model"
)

// DefaultRows is the number of most recent updates kept by a Table.
const DefaultRows = 20

const ruleWidth = 120

// Table keeps the most recent accepted updates in a fixed-size ring.
type Table struct {
	mu    sync.Mutex
	rows  []model.PriceUpdate
	next  int
	count int
	total uint64
}

func NewTable(rows int) *Table {
	if rows <= 0 {
		rows = DefaultRows
	}
	return &Table{rows: make([]model.PriceUpdate, rows)}
}

// Publish appends update, discarding the oldest row when full.
func (t *Table) Publish(_ context.Context, update model.PriceUpdate) error {
	t.Add(update)
	return nil
}

// Add appends update, discarding the oldest row when full.
func (t *Table) Add(update model.PriceUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rows[t.next] = update
	t.next = (t.next + 1) % len(t.rows)
	if t.count < len(t.rows) {
		t.count++
	}
	t.total++
}

// Rows returns the kept updates, oldest first.
func (t *Table) Rows() []model.PriceUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]model.PriceUpdate, 0, t.count)
	start := (t.next - t.count + len(t.rows)) % len(t.rows)
	for i := 0; i < t.count; i++ {
		out = append(out, t.rows[(start+i)%len(t.rows)])
	}
	return out
}

// Total returns how many updates were ever added.
func (t *Table) Total() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Render writes the table to w.
func (t *Table) Render(w io.Writer) error {
	rows := t.Rows()
	rule := strings.Repeat("=", ruleWidth)

	if _, err := fmt.Fprintf(w, "\n%s\nSOLANA AMM MARKET RATES - REAL-TIME\n%s\n", rule, rule); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Program\tBase/Quote\tRate\tSwap Fee\tLiquidity\tVolume 1h\tTimestamp")
	fmt.Fprintln(tw, "-------\t----------\t----\t--------\t---------\t---------\t---------")
	for _, u := range rows {
		mr := u.MarketRate
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s SOL\t%s SOL\t%s\n",
			programLabel(mr.ProgramID),
			mr.TokenPair.Symbol(),
			decimal.NewFromFloat(mr.Rate).StringFixed(6),
			decimal.NewFromFloat(mr.SwapFee).StringFixed(4),
			decimal.NewFromFloat(mr.Liquidity.TotalLiquidityUSD).StringFixed(2),
			decimal.NewFromFloat(mr.Liquidity.Volume1h).StringFixed(2),
			mr.Time().UTC().Format(time.TimeOnly),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintln(w, rule)
	return err
}

// ClearScreen moves the cursor home and clears an ANSI terminal.
func ClearScreen(w io.Writer) {
	fmt.Fprint(w, "\x1b[2J\x1b[1;1H")
}

func programLabel(id string) string {
	if name, ok := model.KnownProgramName(id); ok {
		return name
	}
	return model.PoolProgram{ID: id}.ShortID()
}
