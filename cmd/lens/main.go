package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/pbaille/lens/internal/aggregate"
	"github.com/pbaille/lens/internal/answer"
	"github.com/pbaille/lens/internal/autofetch"
	"github.com/pbaille/lens/internal/config"
	"github.com/pbaille/lens/internal/domain"
	"github.com/pbaille/lens/internal/filter"
	"github.com/pbaille/lens/internal/knowledge"
	"github.com/pbaille/lens/internal/store"
	"github.com/pbaille/lens/internal/supabase"
	"github.com/pbaille/lens/internal/view"
)

var (
	cfgPath  string
	dbPath   string
	logLevel string

	channelsFlag string
	windowFlag   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "lens",
		Short:         "Crypto mention analytics over analysed video transcripts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "sqlite database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(projectsCmd())
	rootCmd.AddCommand(categoriesCmd())
	rootCmd.AddCommand(coinsCmd())
	rootCmd.AddCommand(trendCmd())
	rootCmd.AddCommand(channelsCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(autofetchCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies command-line overrides
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
		cfg.Storage.Driver = config.DriverSQLite
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// getSource opens the configured knowledge collaborator and a func that releases it
func getSource(cfg *config.Config) (knowledge.Collaborator, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverSupabase:
		c, err := supabase.New(cfg.Storage.SupabaseURL, cfg.Storage.SupabaseKey, cfg.Storage.SupabaseTable)
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil
	default:
		s, err := getStore(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}

func getStore(path string) (*store.Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return store.New(path)
}

func newService(cfg *config.Config, logger *slog.Logger, src knowledge.Collaborator) *knowledge.Service {
	return knowledge.NewService(src, knowledge.Options{
		Logger:       logger,
		StrictWrites: cfg.Knowledge.StrictWrites,
	})
}

// loadRecords fetches the stored records once
func loadRecords(ctx context.Context) (*config.Config, []domain.KnowledgeRecord, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	src, closeSrc, err := getSource(cfg)
	if err != nil {
		return nil, nil, err
	}
	defer closeSrc()

	svc := newService(cfg, logger, src)
	if err := svc.Refresh(ctx); err != nil {
		return nil, nil, err
	}
	snap, err := svc.Snapshot()
	if err != nil {
		return nil, nil, err
	}
	return cfg, snap.Records, nil
}

// scopedRecords applies the --channels and --window flags
func scopedRecords(ctx context.Context) (*config.Config, []domain.KnowledgeRecord, error) {
	cfg, records, err := loadRecords(ctx)
	if err != nil {
		return nil, nil, err
	}
	records = filter.ByChannels(records, filter.SplitList(channelsFlag))
	records = filter.ByWindow(records, filter.ParseWindow(windowFlag), nowUTC())
	return cfg, records, nil
}

func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&channelsFlag, "channels", "", "comma separated channels to include")
	cmd.Flags().StringVar(&windowFlag, "window", "all", "time window: all, today, week, month, year")
}

func aggregateOptions(cfg *config.Config) aggregate.Options {
	return aggregate.Options{FoldCase: cfg.Knowledge.FoldCase}
}

func importCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Replace stored knowledge with the records of a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read export: %w", err)
			}
			raws, err := knowledge.DecodeBatch(body)
			if err != nil {
				return err
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("strict") {
				cfg.Knowledge.StrictWrites = strict
			}
			src, closeSrc, err := getSource(cfg)
			if err != nil {
				return err
			}
			defer closeSrc()

			result, err := newService(cfg, logger, src).Write(cmd.Context(), raws)
			for _, e := range result.Errors {
				fmt.Printf("  ! %s\n", e)
			}
			if err != nil {
				return err
			}

			fmt.Printf("Imported %d of %d records (%d problems)\n", result.Written, len(raws), len(result.Errors))
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "reject the whole file if any record is malformed")
	return cmd
}

func listCmd() *cobra.Command {
	var q view.ListQuery
	var window string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List analysed videos",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, records, err := loadRecords(cmd.Context())
			if err != nil {
				return err
			}
			q.Window = filter.ParseWindow(window)
			page := view.KnowledgeList(records, q, nowUTC())

			if page.Total == 0 {
				fmt.Println("No records yet. Use 'lens import' to load an export.")
				return nil
			}

			for _, r := range page.Items {
				fmt.Printf("%-12s  %s  %-20s  %s\n", truncate(r.ID, 12), r.Day(), truncate(r.ChannelName, 20), truncate(r.VideoTitle, 60))
			}
			fmt.Printf("\npage %d/%d (%d records)\n", page.Page, page.Pages, page.Total)
			return nil
		},
	}

	cmd.Flags().StringVarP(&q.Search, "search", "s", "", "filter by title")
	cmd.Flags().StringVarP(&q.Channel, "channel", "c", "", "only this channel")
	cmd.Flags().StringVar(&window, "window", "all", "time window: all, today, week, month, year")
	cmd.Flags().StringVar(&q.SortBy, "sort", "date", "sort by: date, title, channel")
	cmd.Flags().IntVarP(&q.Page, "page", "p", 1, "page number")
	cmd.Flags().IntVarP(&q.PageSize, "limit", "n", view.DefaultListPageSize, "records per page")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show one record with its mentions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, records, err := loadRecords(cmd.Context())
			if err != nil {
				return err
			}

			var found *int
			for i, r := range records {
				if r.ID == args[0] || strings.HasPrefix(r.ID, args[0]) {
					found = &i
					break
				}
			}
			if found == nil {
				return fmt.Errorf("record not found: %s", args[0])
			}
			r := records[*found]

			fmt.Printf("ID:      %s\n", r.ID)
			fmt.Printf("Date:    %s\n", r.Day())
			fmt.Printf("Channel: %s\n", r.ChannelName)
			fmt.Printf("Title:   %s\n", r.VideoTitle)
			if r.Link != "" {
				fmt.Printf("Link:    %s\n", r.Link)
			}

			if len(r.ProjectMentions) > 0 {
				fmt.Printf("\nMentions:\n")
				for _, m := range r.ProjectMentions {
					fmt.Printf("  - %-16s %6.2f rpoints  %s\n", m.CoinOrProject, m.RPoints, strings.Join(m.Categories, ", "))
				}
			}
			if r.Transcript != "" {
				fmt.Printf("\nTranscript:\n%s\n", truncate(r.Transcript, 400))
			}
			return nil
		},
	}
}

func projectsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Rank projects by rpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, records, err := scopedRecords(cmd.Context())
			if err != nil {
				return err
			}
			res := aggregate.Compute(records, aggregateOptions(cfg))
			sum := aggregate.Summarize(records, res)

			fmt.Printf("%d videos, %d mentions, %d coins, top coin %s\n\n", sum.TotalEntries, sum.TotalMentions, sum.UniqueCoins, sum.TopCoin)
			for _, s := range view.Shares(res.ProjectDistribution, limit) {
				fmt.Printf("%-20s %10.2f  %5.1f%%\n", truncate(s.Name, 20), s.Value, s.Percent)
			}
			return nil
		},
	}

	addScopeFlags(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of projects to show")
	return cmd
}

func categoriesCmd() *cobra.Command {
	var q view.CategoryQuery
	var selected string

	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Show category totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, records, err := scopedRecords(cmd.Context())
			if err != nil {
				return err
			}
			q.Selected = filter.SplitList(selected)
			stats := view.CategoryList(aggregate.CategoryOverview(records, nowUTC(), aggregateOptions(cfg)), q)

			if len(stats) == 0 {
				fmt.Println("No categories found.")
				return nil
			}
			for _, s := range stats {
				fmt.Printf("%-20s %10.2f rpoints  %4d mentions  %3d coins  %3d recent\n",
					truncate(s.Name, 20), s.TotalRPoints, s.Mentions, len(s.Coins), s.RecentActivity)
			}
			return nil
		},
	}

	addScopeFlags(cmd)
	cmd.Flags().StringVarP(&q.Search, "search", "s", "", "match category or coin names")
	cmd.Flags().StringVar(&selected, "only", "", "comma separated categories to show")
	cmd.Flags().StringVar(&q.SortBy, "sort", "rpoints", "sort by: rpoints, mentions, coins, recent")
	return cmd
}

func coinsCmd() *cobra.Command {
	var q view.CoinQuery
	var order string

	cmd := &cobra.Command{
		Use:   "coins",
		Short: "List coins with their categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, records, err := scopedRecords(cmd.Context())
			if err != nil {
				return err
			}
			q.Order = view.ParseOrder(order, view.Desc)
			rows := view.CoinCategoryTable(aggregate.Compute(records, aggregateOptions(cfg)), q)

			for _, r := range rows {
				fmt.Printf("%-20s %10.2f  %s\n", truncate(r.Coin, 20), r.RPoints, strings.Join(r.Categories, ", "))
			}
			return nil
		},
	}

	addScopeFlags(cmd)
	cmd.Flags().StringVarP(&q.Search, "search", "s", "", "match coin or category names")
	cmd.Flags().StringVar(&q.SortBy, "sort", "rpoints", "sort by: rpoints, name, categories")
	cmd.Flags().StringVar(&order, "order", "desc", "asc or desc")
	return cmd
}

func trendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trend [coin]",
		Short: "Show a coin's rpoints per day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, records, err := scopedRecords(cmd.Context())
			if err != nil {
				return err
			}
			res := aggregate.Compute(records, aggregateOptions(cfg))
			points := view.Trend(res, args[0])
			if len(points) == 0 {
				fmt.Printf("No mentions of %s in this selection.\n", args[0])
				return nil
			}

			var peak float64
			for _, p := range points {
				peak = math.Max(peak, p.RPoints)
			}
			for _, p := range points {
				width := 0
				if peak > 0 {
					width = int(math.Round(p.RPoints / peak * 40))
				}
				fmt.Printf("%s  %8.2f  %s\n", p.Date, p.RPoints, strings.Repeat("#", width))
			}
			fmt.Printf("\ntotal %.2f rpoints\n", res.RPoints(args[0]))
			return nil
		},
	}

	addScopeFlags(cmd)
	return cmd
}

func channelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			var names []string
			if cfg.Storage.Driver == config.DriverSQLite {
				s, err := getStore(cfg.Storage.Path)
				if err != nil {
					return err
				}
				defer s.Close()
				if names, err = s.Channels(cmd.Context()); err != nil {
					return err
				}
			} else {
				_, records, err := loadRecords(cmd.Context())
				if err != nil {
					return err
				}
				names = filter.Channels(records)
			}

			if len(names) == 0 {
				fmt.Println("No channels yet.")
				return nil
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the knowledge base a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Print("Thinking... ")
			res, err := answer.New(cfg.Answer.Endpoint, cfg.Answer.APIKey, cfg.Answer.Project).
				Ask(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				fmt.Println("failed")
				return err
			}
			fmt.Println("done")

			if res.NoAnswer {
				fmt.Println(res.Message)
				return nil
			}
			fmt.Printf("\n%s\n", res.Answer)
			return nil
		},
	}
}

func autofetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "autofetch [channel] [start-date]",
		Short: "Ask the ingestion webhook to fetch a channel's videos",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			start, err := autofetch.ParseStart(args[1])
			if err != nil {
				return err
			}

			sent, err := autofetch.New(cfg.Autofetch.WebhookURL).Start(cmd.Context(), args[0], start)
			if err != nil {
				return err
			}
			fmt.Printf("Requested %s from %s\n", sent.ChannelName, sent.StartDate)
			return nil
		},
	}
}

func truncate(s string, max int) string {
	// Replace newlines with spaces for display
	s = strings.ReplaceAll(s, "\n", " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-3]) + "..."
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
