package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/event"
	"github.com/newthinker/tradesim/internal/indicator"
	"github.com/newthinker/tradesim/internal/logger"
	"github.com/newthinker/tradesim/internal/position"
	"github.com/newthinker/tradesim/internal/result"
	"github.com/newthinker/tradesim/internal/session"
	store "github.com/newthinker/tradesim/internal/storage/session"
)

var (
	runSymbol    string
	runTimeframe string
	runFrom      string
	runTo        string
	runCapital   float64
	runInterval  int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a one-shot backtest",
	Long:  "Replay historical candles through the configured decision maker and print the result",
	RunE:  runBacktest,
}

func init() {
	runCmd.Flags().StringVar(&runSymbol, "symbol", "", "Symbol to backtest (required)")
	runCmd.Flags().StringVar(&runTimeframe, "timeframe", "1h", "Candle timeframe")
	runCmd.Flags().StringVar(&runFrom, "from", "", "Start date YYYY-MM-DD (required)")
	runCmd.Flags().StringVar(&runTo, "to", "", "End date YYYY-MM-DD (required)")
	runCmd.Flags().Float64Var(&runCapital, "capital", 0, "Starting capital (default from config)")
	runCmd.Flags().IntVar(&runInterval, "interval", 0, "Candles between decisions (default from config)")

	runCmd.MarkFlagRequired("symbol")
	runCmd.MarkFlagRequired("from")
	runCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(runCmd)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	log := logger.Must(debug)
	defer log.Sync()

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	tf, err := core.ParseTimeframe(runTimeframe)
	if err != nil {
		return err
	}
	from, err := time.Parse("2006-01-02", runFrom)
	if err != nil {
		return fmt.Errorf("invalid from date format (expected YYYY-MM-DD): %w", err)
	}
	to, err := time.Parse("2006-01-02", runTo)
	if err != nil {
		return fmt.Errorf("invalid to date format (expected YYYY-MM-DD): %w", err)
	}
	if to.Before(from) {
		return fmt.Errorf("end date must be after start date")
	}

	source, err := newSource(cfg.Data)
	if err != nil {
		return err
	}
	maker, err := newMaker(cfg.LLM, log)
	if err != nil {
		return fmt.Errorf("building decision maker: %w", err)
	}

	capital := runCapital
	if capital == 0 {
		capital = cfg.Session.DefaultCapital
	}
	interval := runInterval
	if interval == 0 {
		interval = cfg.Session.DecisionInterval
	}

	params := session.Params{
		Symbol:          runSymbol,
		Timeframe:       tf,
		Start:           from,
		End:             to,
		StartingCapital: capital,
		Agent:           maker.Name(),
		Indicators:      indicator.DefaultConfig(),
		Limits: position.Limits{
			MaxSizeFraction: cfg.Risk.MaxSizeFraction,
			MaxLeverage:     cfg.Risk.MaxLeverage,
		},
		Safety: session.SafetyConfig{
			MaxLossPerTradePct: cfg.Risk.MaxLossPerTradePct,
			MaxDailyLossPct:    cfg.Risk.MaxDailyLossPct,
			MaxDrawdownPct:     cfg.Risk.MaxDrawdownPct,
		},
		DecisionInterval:   interval,
		DecisionTimeout:    cfg.Session.DecisionTimeout,
		DecisionMinDelay:   cfg.Session.DecisionMinDelay,
		ReadinessThreshold: cfg.Session.ReadinessThreshold,
		HistoryWindow:      cfg.Session.HistoryWindow,
		CheckpointInterval: cfg.Session.CheckpointInterval,
		FetchRetries:       cfg.Data.FetchRetries,
		FetchBackoff:       cfg.Data.RetryInterval,
	}

	ctx := cmd.Context()
	st := store.NewMemoryStore()
	sess, err := session.New(ctx, "cli", params, source, maker, st, event.NopSink{}, log)
	if err != nil {
		return err
	}
	sess.Run(ctx)

	if status := sess.Status(); status.State == session.StateFailed {
		return fmt.Errorf("session failed: %s", status.LastError)
	}
	res, err := st.GetResult(ctx, "cli")
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

func printResult(res *result.Result) {
	fmt.Println("=== tradesim backtest ===")
	fmt.Printf("Agent:     %s\n", res.Agent)
	fmt.Printf("Symbol:    %s %s\n", res.Symbol, res.Timeframe)
	fmt.Printf("Period:    %s to %s\n",
		res.StartDate.Format("2006-01-02"), res.EndDate.Format("2006-01-02"))
	fmt.Printf("Duration:  %s\n", res.Duration)
	fmt.Println()
	fmt.Printf("Capital:   %.2f -> %.2f\n", res.StartingCapital, res.FinalCapital)
	fmt.Printf("PnL:       %.2f (%.2f%%)\n", res.TotalPnL, res.TotalPnLPct)
	fmt.Printf("Trades:    %d (%d winning, win rate %.1f%%)\n",
		res.TotalTrades, res.WinningTrades, res.WinRate)
	fmt.Printf("Drawdown:  %.2f%%\n", res.MaxDrawdown)
	if res.SharpeRatio != nil {
		fmt.Printf("Sharpe:    %.2f\n", *res.SharpeRatio)
	}
	if res.ProfitFactor != nil {
		fmt.Printf("PF:        %.2f\n", *res.ProfitFactor)
	}
	if res.AvgHoldingTime != nil {
		fmt.Printf("Avg hold:  %s\n", *res.AvgHoldingTime)
	}
	if res.StoppedEarly {
		fmt.Printf("Stopped:   %s\n", res.StopReason)
	}
	if res.Summary != "" {
		fmt.Println()
		fmt.Println(res.Summary)
	}
}
