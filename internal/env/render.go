package env

import (
	"fmt"
	"io"
	"os"
	"time"
)

// renderHeaderEvery is how often the column headers are reprinted.
const renderHeaderEvery = 50

// Render writes one fixed-width line of the latest bar and accounting
// snapshot to w (stdout when nil). Only the "human" mode exists; anything
// else is an error. Rendering never mutates environment state beyond the
// line counter.
func (e *MarketEnv) Render(mode string, w io.Writer) error {
	if mode != "human" {
		return fmt.Errorf("%w: %q", ErrUnsupportedRenderMode, mode)
	}
	if w == nil {
		w = os.Stdout
	}

	bar, ok := e.acct.LastBar()
	if !ok {
		_, err := fmt.Fprintln(w, "waiting for market data")
		return err
	}
	info := e.acct.Snapshot()

	// Forex quotes carry five decimals, everything else two.
	prec := 2
	if e.inst.SecType == "CASH" {
		prec = 5
	}

	if e.renderedSteps%renderHeaderEvery == 0 {
		if _, err := fmt.Fprintf(w, "%5s  %-8s  %9s %6s  %9s %6s  %9s  %13s  %10s  %10s  %7s  %6s\n",
			"step", "time", "bid", "bsize", "ask", "asize", "last",
			"pos des/act", "unreal", "profit", "action", "lat_ms"); err != nil {
			return err
		}
	}
	e.renderedSteps++

	ts := time.Unix(int64(bar.Time), 0).Format("15:04:05")
	_, err := fmt.Fprintf(w, "%5d  %-8s  %9.*f %6.0f  %9.*f %6.0f  %9.*f  %6d/%6d  %10.2f  %10.2f  %7.2f  %6.0f\n",
		info.Step, ts,
		prec, bar.Bid, bar.BidSize,
		prec, bar.Ask, bar.AskSize,
		prec, bar.Last,
		info.PositionDesired, info.PositionActual,
		info.UnrealizedGain.InexactFloat64(),
		info.EpisodeProfit.InexactFloat64(),
		info.LastAction,
		info.AgentLatency*1000,
	)
	return err
}
