package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/seenimoa/marketlens/internal/analysis/attribution"
	"github.com/seenimoa/marketlens/internal/analysis/decompose"
	"github.com/seenimoa/marketlens/internal/analysis/derivatives"
	"github.com/seenimoa/marketlens/internal/analysis/technical"
	"github.com/seenimoa/marketlens/internal/instruments"
	"github.com/seenimoa/marketlens/internal/snapshot"
	"github.com/seenimoa/marketlens/internal/upstox"
	"github.com/seenimoa/marketlens/pkg/models"
	"github.com/seenimoa/marketlens/pkg/utils"
)

// --- Instrument Directory Commands ---

var resolveCmd = &cobra.Command{
	Use:   "resolve [symbol...]",
	Short: "Resolve symbols to primary-provider instrument keys",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := buildServices(cmd.Context(), true)
		if err := svc.requireDirectory(); err != nil {
			return err
		}
		for _, sym := range args {
			inst, ok := svc.dir.Resolve(sym)
			if !ok {
				fmt.Printf("  %-20s ❌ not found\n", sym)
				continue
			}
			fmt.Printf("  %-20s %s (%s)\n", sym, inst.Key, inst.Segment)
		}
		return nil
	},
}

var expiryCmd = &cobra.Command{
	Use:   "expiry [symbol]",
	Short: "Show the next derivative expiry for an underlying",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := buildServices(cmd.Context(), true)
		sym := args[0]
		now := utils.NowIST()

		if svc.dir != nil {
			if exp, ok := svc.dir.NextExpiry(sym, now); ok {
				fmt.Printf("📅 %s next expiry: %s\n", sym, exp)
				if all, _ := cmd.Flags().GetBool("all"); all {
					fmt.Printf("   all: %s\n", strings.Join(svc.dir.Expiries(sym), ", "))
				}
				return nil
			}
		}
		fmt.Printf("📅 %s next expiry: %s (weekday fallback)\n", sym, upstox.FallbackExpiry(sym, now))
		return nil
	},
}

var futuresCmd = &cobra.Command{
	Use:   "futures [symbol]",
	Short: "List futures contracts, or quote the nearest one with --quote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := buildServices(cmd.Context(), true)
		if err := svc.requireDirectory(); err != nil {
			return err
		}
		sym := args[0]

		contracts := svc.dir.FuturesContracts(sym, utils.NowIST())
		if len(contracts) == 0 {
			return fmt.Errorf("no active futures for %s", sym)
		}
		fmt.Printf("📜 %s futures:\n", sym)
		for _, c := range contracts {
			fmt.Printf("   %-28s expires %s\n", c.Key, utils.FormatDateIST(c.ExpiryTime()))
		}

		if quote, _ := cmd.Flags().GetBool("quote"); !quote {
			return nil
		}
		if err := svc.requirePrimary(); err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()
		fq, err := svc.upstox.FuturesQuote(ctx, sym)
		if err != nil {
			return err
		}
		fmt.Printf("\n   LTP %s (%s)  spot %s  premium %.2f (%.2f%%, %s)\n",
			utils.FormatINR(fq.LTP), utils.FormatPct(fq.ChangePct), utils.FormatINR(fq.SpotPrice),
			fq.Premium, fq.BasisPct, fq.Interpretation)
		return nil
	},
}

var instrumentsCmd = &cobra.Command{
	Use:   "instruments",
	Short: "Manage the instrument directory",
}

var instrumentsBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the compact instrument master from the provider dump",
	RunE: func(cmd *cobra.Command, args []string) error {
		dump, _ := cmd.Flags().GetString("dump")
		if dump == "" {
			dump = cfg.Instruments.DumpPath
		}
		start := time.Now()
		dir, err := instruments.LoadDumpFile(dump)
		if err != nil {
			return err
		}
		if err := dir.WriteMasterFile(cfg.Instruments.MasterPath); err != nil {
			return err
		}
		st := dir.Stats()
		fmt.Printf("✅ Wrote %s in %s\n", cfg.Instruments.MasterPath, time.Since(start).Round(time.Millisecond))
		fmt.Printf("   equities %d, indices %d (%d aliases), futures roots %d, expiry roots %d\n",
			st.Equities, st.Indices, st.IndexAliases, st.FuturesRoots, st.ExpiryRoots)
		return nil
	},
}

func init() {
	expiryCmd.Flags().Bool("all", false, "list every known expiry")
	futuresCmd.Flags().Bool("quote", false, "quote the nearest contract with its basis")
	instrumentsBuildCmd.Flags().String("dump", "", "instrument dump path (default: instruments.dump_path)")
	instrumentsCmd.AddCommand(instrumentsBuildCmd)
}

// --- Market Data Commands ---

var quotesCmd = &cobra.Command{
	Use:   "quotes [symbol...]",
	Short: "Fetch spot quotes, or nearest futures with --futures, from the primary provider",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := buildServices(cmd.Context(), true)
		if err := svc.requirePrimary(); err != nil {
			return err
		}
		if futures, _ := cmd.Flags().GetBool("futures"); futures {
			return printFuturesQuotes(cmd, svc, args)
		}

		keys := make([]string, 0, len(args))
		bySymbol := make(map[string]string, len(args))
		for _, sym := range args {
			key, err := svc.dir.ResolveKey(sym)
			if err != nil {
				fmt.Printf("  %-20s ❌ %v\n", sym, err)
				continue
			}
			keys = append(keys, key)
			bySymbol[sym] = key
		}

		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()
		quotes, err := svc.upstox.BatchQuotes(ctx, keys)
		if err != nil && len(quotes) == 0 {
			return err
		}
		for _, sym := range args {
			key, ok := bySymbol[sym]
			if !ok {
				continue
			}
			q, ok := quotes[key]
			if !ok {
				fmt.Printf("  %-20s ❌ no quote\n", sym)
				continue
			}
			fmt.Printf("  %-20s %12s  %8s  vol %s\n", sym, utils.FormatINR(q.LastPrice), utils.FormatPct(q.ChangePct), utils.FormatVolume(q.Volume))
		}
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [symbol...]",
	Short: "Fetch price frames, routing between primary and secondary providers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := buildServices(cmd.Context(), true)
		days, _ := cmd.Flags().GetInt("days")

		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()
		end := utils.NowIST()
		results := svc.fetcher.FetchList(ctx, args, end.AddDate(0, 0, -days), end)

		ok := 0
		for _, r := range results {
			if !r.OK() {
				fmt.Printf("  %-20s ❌ %s\n", r.Symbol, r.Err)
				continue
			}
			ok++
			last := r.Frame.Bars[r.Frame.Len()-1]
			change := "n/a"
			if pct, has := r.Frame.LatestChangePct(); has {
				change = utils.FormatPct(pct)
			}
			fmt.Printf("  %-20s %4d bars  last %s %s  %s\n", r.Symbol, r.Frame.Len(),
				utils.FormatDateIST(last.Timestamp), utils.FormatINR(last.Close), change)
		}
		fmt.Printf("\n%d of %d symbols fetched successfully\n", ok, len(results))
		return nil
	},
}

var optionsCmd = &cobra.Command{
	Use:   "options [symbol]",
	Short: "Analyze the option chain: PCR, max pain, OI levels and market state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := buildServices(cmd.Context(), true)
		if err := svc.requirePrimary(); err != nil {
			return err
		}
		sym := args[0]
		expiry, _ := cmd.Flags().GetString("expiry")
		if expiry == "" {
			expiry = svc.upstox.Expiry(sym)
		}

		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()
		chain, err := svc.upstox.OptionChain(ctx, sym, expiry)
		if err != nil {
			return err
		}
		a := derivatives.AnalyzeOptionChain(chain)

		fmt.Printf("🎯 %s options, expiry %s, spot %s\n", sym, a.Expiry, utils.FormatINR(a.SpotPrice))
		fmt.Printf("   PCR (OI):    %.2f  %s (%s)\n", a.PCR.PCR, a.PCR.Sentiment, a.PCR.Interpretation)
		fmt.Printf("   Max pain:    %.0f (%+.2f%% from spot)\n", a.MaxPain.Strike, a.MaxPain.DistancePct)
		fmt.Printf("   Support:     %.0f (max put OI)\n", a.OISRLevels.MaxPutOIStrike)
		fmt.Printf("   Resistance:  %.0f (max call OI)\n", a.OISRLevels.MaxCallOIStrike)
		if a.ATMIV > 0 {
			fmt.Printf("   ATM %.0f IV: %.1f (skew %+.1f)\n", a.ATMStrike, a.ATMIV, a.IVSkew)
		}
		calls, puts := derivatives.TopOIChanges(chain, 3)
		for _, b := range append(calls, puts...) {
			fmt.Printf("   OI build-up  %.0f %s  %+d (%+.1f%%)  %s\n", b.Strike, b.OptionType, b.OIChange, b.OIChangePct, b.Buildup)
		}

		hist := svc.history(ctx, []string{sym}, 100)
		if r := hist[sym]; r.OK() {
			pcr := a.PCR.PCR
			state := technical.AnalyzeMarketState(r.Frame.Bars, &pcr)
			fmt.Printf("\n   %s\n", state.Summary())
			for _, c := range state.Conflicts {
				fmt.Printf("   ⚠️  %s\n", c)
			}
		}
		return nil
	},
}

func printFuturesQuotes(cmd *cobra.Command, svc *services, symbols []string) error {
	ctx, cancel := withTimeout(cmd.Context())
	defer cancel()
	quotes, err := svc.upstox.BatchFuturesQuotes(ctx, symbols)
	if err != nil && len(quotes) == 0 {
		return err
	}
	for _, sym := range symbols {
		fq, ok := quotes[sym]
		if !ok {
			fmt.Printf("  %-20s ❌ no futures quote\n", sym)
			continue
		}
		fmt.Printf("  %-20s %-10s %12s  %8s  OI %s  %s\n", sym, fq.Expiry, utils.FormatINR(fq.LTP),
			utils.FormatPct(fq.ChangePct), utils.FormatVolume(fq.OI), fq.Interpretation)
	}
	return nil
}

func init() {
	quotesCmd.Flags().Bool("futures", false, "quote nearest-expiry futures instead of spot")
	fetchCmd.Flags().Int("days", 30, "trailing calendar days to fetch")
	optionsCmd.Flags().String("expiry", "", "expiry date YYYY-MM-DD (default: next expiry)")
}

// --- Portfolio Commands ---

type holdingsFile struct {
	Holdings []models.Holding `yaml:"holdings" validate:"required,min=1,dive"`
}

func readHoldings(path string) ([]models.Holding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read holdings: %w", err)
	}
	var hf holdingsFile
	if err := yaml.Unmarshal(data, &hf); err != nil {
		return nil, fmt.Errorf("parse holdings %s: %w", path, err)
	}
	if err := validator.New().Struct(hf); err != nil {
		return nil, fmt.Errorf("invalid holdings %s: %w", path, err)
	}
	return hf.Holdings, nil
}

var decomposeCmd = &cobra.Command{
	Use:   "decompose",
	Short: "Look through ETF holdings to underlying stock and sector exposure",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("holdings")
		fromBroker, _ := cmd.Flags().GetBool("broker")
		if file == "" && !fromBroker {
			return fmt.Errorf("provide --holdings FILE or --broker")
		}
		svc := buildServices(cmd.Context(), fromBroker)

		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()

		var holdings []models.Holding
		var err error
		if fromBroker {
			if err := svc.requirePrimary(); err != nil {
				return err
			}
			holdings, err = svc.upstox.Holdings(ctx)
		} else {
			holdings, err = readHoldings(file)
		}
		if err != nil {
			return err
		}

		d := svc.decomposer.Decompose(holdings)
		top, _ := cmd.Flags().GetInt("top")

		fmt.Printf("🔬 Portfolio look-through: %s across %d exposures\n", utils.FormatINRCompact(d.TotalValue), len(d.Exposures))
		for _, w := range d.Warnings {
			fmt.Printf("   ⚠️  %s\n", w)
		}
		fmt.Println("\n   Top exposures:")
		for i, e := range d.Exposures {
			if i == top {
				break
			}
			fmt.Printf("   %-22s %12s  %6.2f%%  %-18s %s\n", e.Symbol, utils.FormatINR(e.Value), e.Weight*100, e.Sector, strings.Join(e.Sources, ", "))
		}
		fmt.Println("\n   Sectors:")
		for _, s := range d.Sectors {
			fmt.Printf("   %-22s %12s  %6.2f%%\n", s.Sector, utils.FormatINR(s.Value), s.Weight*100)
		}

		if live, _ := cmd.Flags().GetBool("impact"); !live {
			return nil
		}
		symbols := make([]string, 0, len(d.Exposures))
		for _, e := range d.Exposures {
			if !strings.HasPrefix(e.Symbol, decompose.UnallocatedPrefix) {
				symbols = append(symbols, e.Symbol)
			}
		}
		changes, n := svc.latestChanges(ctx, symbols)
		total := decompose.ApplyChanges(d, changes)
		pullers, draggers := decompose.TopMovers(d, top)

		fmt.Printf("\n📈 Portfolio impact today: %s (%d of %d exposures priced)\n", utils.FormatPct(total), n, len(symbols))
		for _, e := range pullers {
			fmt.Printf("   ▲ %-20s %8s  impact %+.3f%%\n", e.Symbol, utils.FormatPct(e.ChangePct), e.Impact)
		}
		for _, e := range draggers {
			fmt.Printf("   ▼ %-20s %8s  impact %+.3f%%\n", e.Symbol, utils.FormatPct(e.ChangePct), e.Impact)
		}
		return nil
	},
}

var contributionCmd = &cobra.Command{
	Use:   "contribution [index|etf]",
	Short: "Attribute an index or ETF move to its constituents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := buildServices(cmd.Context(), true)
		comp := svc.decomposer.Composition()
		top, _ := cmd.Flags().GetInt("top")

		name := args[0]
		etf := ""
		index := name
		weights, ok := comp.Weights(index)
		if !ok {
			if index, weights, ok = comp.WeightsFor(name); !ok {
				return fmt.Errorf("%s is neither a known index nor a mapped ETF", name)
			}
			etf = name
		}

		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()

		symbols := make([]string, len(weights))
		for i, c := range weights {
			symbols[i] = c.Symbol
		}
		changes, n := svc.latestChanges(ctx, symbols)
		report := svc.decomposer.AttributeContribution(weights, changes)

		fmt.Printf("🧮 %s contribution: %+.3f%% (%d of %d constituents fetched successfully)\n",
			index, report.TotalScore, n, len(weights))
		for _, c := range report.Pullers(top) {
			fmt.Printf("   ▲ %-16s w %5.2f%%  %8s  contrib %+.3f\n", c.Symbol, c.Weight, utils.FormatPct(c.ChangePct), c.Contribution)
		}
		for _, c := range report.Draggers(top) {
			fmt.Printf("   ▼ %-16s w %5.2f%%  %8s  contrib %+.3f\n", c.Symbol, c.Weight, utils.FormatPct(c.ChangePct), c.Contribution)
		}
		fmt.Println("\n   By sector:")
		for _, s := range report.Sectors {
			fmt.Printf("   %-22s w %6.2f%%  contrib %+.3f\n", s.Sector, s.Weight, s.Contribution)
		}

		if etf == "" {
			return nil
		}
		hist := svc.history(ctx, []string{etf}, 100)
		h := svc.decomposer.ETFHealth(etf, hist[etf].Frame, changes)
		fmt.Printf("\n🩺 %s trend: %s (score %d, close %.2f, SMA20 %.2f, SMA50 %.2f)\n",
			h.Symbol, h.Status, h.TrendScore, h.Close, h.SMA20, h.SMA50)
		for _, g := range h.Generals {
			fmt.Printf("   %-16s w %5.2f%%  %s\n", g.Symbol, g.Weight, utils.FormatPct(g.ChangePct))
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{decomposeCmd, contributionCmd} {
		c.Flags().StringVar(&compositionPath, "composition", "", "composition YAML overriding the embedded tables")
		c.Flags().Int("top", 5, "rows to show")
	}
	decomposeCmd.Flags().String("holdings", "", "holdings YAML file")
	decomposeCmd.Flags().Bool("broker", false, "read holdings from the primary provider")
	decomposeCmd.Flags().Bool("impact", false, "fetch latest moves and compute portfolio impact")
}

// --- Attribution Commands ---

var attributeCmd = &cobra.Command{
	Use:   "attribute [target] [driver...]",
	Short: "Explain a target's daily return by its drivers (ridge regression)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := buildServices(cmd.Context(), false)
		target, drivers := args[0], args[1:]
		window, _ := cmd.Flags().GetInt("window")
		maxLag, _ := cmd.Flags().GetInt("max-lag")
		dateStr, _ := cmd.Flags().GetString("date")

		var date time.Time
		if dateStr != "" {
			d, err := utils.ParseDateIST(dateStr)
			if err != nil {
				return fmt.Errorf("invalid --date: %w", err)
			}
			date = d
		}
		if window <= 0 {
			window = cfg.Attribution.Window
		}

		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()
		results := svc.history(ctx, append([]string{target}, drivers...), (window+attribution.MinLeadLagObs)*2+30)

		tr := results[target]
		if !tr.OK() {
			return fmt.Errorf("target %s: %s", target, tr.Err)
		}
		targetReturns := attribution.FrameReturns(tr.Frame)
		series := make(map[string]attribution.Returns, len(drivers))
		for _, d := range drivers {
			if r := results[d]; r.OK() {
				series[d] = attribution.FrameReturns(r.Frame)
			} else {
				fmt.Printf("   ⚠️  driver %s skipped: %s\n", d, r.Err)
			}
		}

		res := svc.attribution.AttributeDriverReturns(target, targetReturns, series, date, window)
		if res.Error != "" {
			return fmt.Errorf("attribution: %s", res.Error)
		}
		fmt.Printf("🧭 %s on %s: %+.2f%%  (R² %.2f over %d days)\n",
			target, utils.FormatDateIST(res.Date), res.TargetReturn, res.RSquared, res.Observations)
		for _, c := range res.Contributions {
			fmt.Printf("   %-14s β %+.3f  move %+.2f%%  contrib %+.3f%%  (%5.1f%%)\n",
				c.Symbol, c.Coefficient, c.DriverReturn, c.Contribution, c.ContributionPct)
		}
		fmt.Printf("   %-14s %+.3f%%  (%5.1f%%)\n", "unexplained", res.Unexplained, res.UnexplainedPct)

		fmt.Println("\n   Lead-lag:")
		for _, d := range drivers {
			s, ok := series[d]
			if !ok {
				continue
			}
			ll := svc.attribution.LeadLag(d, targetReturns, s, maxLag)
			if ll.Error != "" {
				fmt.Printf("   %-14s %s\n", d, ll.Error)
				continue
			}
			fmt.Printf("   %-14s %s (lag %d, corr %+.2f)\n", d, ll.Interpretation, ll.BestLag, ll.Correlation)
		}
		return nil
	},
}

var changesCmd = &cobra.Command{
	Use:   "changes [symbol...]",
	Short: "Detect what changed since the last run for each symbol",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := buildServices(cmd.Context(), true)
		store := snapshot.NewStore(cfg.Snapshot.Path)

		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()
		results := svc.history(ctx, args, 60)
		now := utils.NowIST()

		for _, sym := range args {
			r := results[sym]
			if !r.OK() {
				fmt.Printf("❌ %s: %s\n", sym, r.Err)
				continue
			}

			var pcr *float64
			if svc.upstox != nil && utils.IsIndex(sym) {
				if chain, err := svc.upstox.OptionChain(ctx, sym, svc.upstox.Expiry(sym)); err == nil {
					if a := derivatives.ComputePCR(chain); a.TotalCallOI > 0 {
						pcr = &a.PCR
					}
				}
			}

			snap, ok := snapshot.FromFrame(sym, r.Frame, pcr, now)
			if !ok {
				fmt.Printf("❌ %s: no usable bars\n", sym)
				continue
			}
			changes, err := store.Record(snap)
			if err != nil {
				return err
			}
			fmt.Printf("🔔 %s\n", sym)
			for _, c := range changes {
				fmt.Printf("   [%s/%s] %s (%s)\n", c.Category, c.Significance, c.Description, c.Direction)
			}
		}
		return nil
	},
}

func init() {
	attributeCmd.Flags().Int("window", 0, "training window in trading days (default: attribution.window)")
	attributeCmd.Flags().Int("max-lag", attribution.DefaultMaxLag, "largest lag for the lead-lag scan")
	attributeCmd.Flags().String("date", "", "date to explain YYYY-MM-DD (default: latest)")
}
