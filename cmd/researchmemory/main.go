package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/localrivet/researchmemory"
	"github.com/localrivet/researchmemory/internal/config"
	"github.com/localrivet/researchmemory/internal/errortypes"
	"github.com/localrivet/researchmemory/internal/memorystore"
	"github.com/localrivet/researchmemory/internal/search"
	"github.com/localrivet/researchmemory/internal/syncer"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	projectRoot string
	logLevel    string
	outputJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "researchmemory",
	Short: "Searchable memory for a research project's decision log",
	Long: `researchmemory syncs .research/decision-log.yaml and session files into a
SQLite index and answers hybrid lexical and semantic searches over it, as an
MCP server, an HTTP API or from the command line.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openServer()
		if err != nil {
			return err
		}

		setupSignalHandler(s)
		return s.Start()
	},
}

var serveHTTPCmd = &cobra.Command{
	Use:   "serve-http",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		s, err := openServer()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			s.Stop()
		}()

		return s.StartHTTP(addr)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Apply new decision log entries to the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		withSessions, _ := cmd.Flags().GetBool("sessions")

		s, err := openServer()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := context.Background()
		var results []*syncer.Result
		if withSessions {
			res, err := s.SyncProject(ctx)
			if err != nil {
				return err
			}
			results = append(results, res.Decisions, res.Sessions)
		} else {
			res, err := s.SyncDecisions(ctx)
			if err != nil {
				return err
			}
			results = append(results, res)
		}

		if outputJSON {
			return printJSON(results)
		}
		for _, r := range results {
			fmt.Printf("%-10s %s (last id: %s)\n", r.Source, r.Message, orNone(r.LastID))
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how far the decision log and sessions have been synced",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openServer()
		if err != nil {
			return err
		}
		defer s.Close()

		statuses, err := s.SyncStatus(context.Background())
		if err != nil {
			return err
		}

		if outputJSON {
			return printJSON(statuses)
		}
		for _, st := range statuses {
			state := "in sync"
			if !st.InSync {
				state = fmt.Sprintf("%d pending", st.PendingCount)
			}
			fmt.Printf("%-10s %s: %d in log, %d indexed, last synced %s", st.Source, state, st.LogCount, st.IndexedCount, orNone(st.LastSyncedID))
			if st.LastSyncTime != "" {
				fmt.Printf(" at %s", st.LastSyncTime)
			}
			fmt.Println()
			for _, dl := range st.DeadLetters {
				fmt.Printf("  dead letter %s (position %d): %s\n", dl.Key, dl.Position, dl.Reason)
			}
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Hybrid search over project memory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		namespace, _ := cmd.Flags().GetString("namespace")
		recordType, _ := cmd.Flags().GetString("type")
		intent, _ := cmd.Flags().GetString("intent")

		req := search.Request{
			Query:  strings.Join(args, " "),
			TopK:   limit,
			Intent: search.ParseIntent(intent),
			Filter: memorystore.Filter{NamespacePrefix: namespace, Type: recordType},
		}
		if cmd.Flags().Changed("lexical-weight") || cmd.Flags().Changed("vector-weight") {
			lex, _ := cmd.Flags().GetFloat64("lexical-weight")
			vec, _ := cmd.Flags().GetFloat64("vector-weight")
			req.Weights = &search.Weights{Lexical: lex, Vector: vec}
		}

		s, err := openServer()
		if err != nil {
			return err
		}
		defer s.Close()

		results, err := s.Search(context.Background(), req)
		if err != nil {
			return err
		}
		return printResults(results)
	},
}

var similarCmd = &cobra.Command{
	Use:   "similar <id>",
	Short: "Find memories similar to an existing one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		s, err := openServer()
		if err != nil {
			return err
		}
		defer s.Close()

		results, err := s.FindSimilar(context.Background(), id, limit)
		if err != nil {
			return err
		}
		return printResults(results)
	},
}

var noteCmd = &cobra.Command{
	Use:   "note <content>",
	Short: "Save a free-form note",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		namespace, _ := cmd.Flags().GetString("namespace")
		tags, _ := cmd.Flags().GetStringSlice("tag")
		priority, _ := cmd.Flags().GetInt("priority")

		s, err := openServer()
		if err != nil {
			return err
		}
		defer s.Close()

		id, err := s.SaveNote(context.Background(), memorystore.Record{
			Title:     title,
			Content:   strings.Join(args, " "),
			Namespace: namespace,
			Tags:      tags,
			Priority:  priority,
		})
		if err != nil {
			return err
		}

		if outputJSON {
			return printJSON(map[string]int64{"id": id})
		}
		fmt.Printf("Saved note %d\n", id)
		return nil
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive <id>",
	Short: "Hide a memory from search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		s, err := openServer()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Archive(context.Background(), id); err != nil {
			return err
		}
		fmt.Printf("Archived memory %d\n", id)
		return nil
	},
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
			}
		}

		cfg := config.NewConfig()
		if projectRoot != "" {
			cfg.Project.Root = projectRoot
		}
		if err := cfg.SaveToFile(configPath); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", configPath)
		return nil
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show index statistics and embedder health",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openServer()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := context.Background()
		stats, err := s.Stats(ctx)
		if err != nil {
			return err
		}
		health := s.EmbedderHealth(ctx)

		if outputJSON {
			return printJSON(map[string]interface{}{
				"index":    stats,
				"embedder": health,
			})
		}

		fmt.Printf("Records: %d (%d active, %d archived, %d with embeddings)\n",
			stats.Total, stats.Active, stats.Archived, stats.WithEmbeddings)
		for t, n := range stats.ByType {
			fmt.Printf("  %-10s %d\n", t, n)
		}
		fmt.Printf("Embedder: %s", health.Status)
		if health.Provider != "" {
			fmt.Printf(" (%s, %d dimensions, probe %.1fms)", health.Provider, health.Dimensions, health.ProbeLatencyMS)
		}
		if health.ProbeError != "" {
			fmt.Printf(": %s", health.ProbeError)
		}
		fmt.Println()
		fmt.Print(s.Metrics().GetReport())
		return nil
	},
}

func openServer() (*researchmemory.Server, error) {
	cfg, err := config.LoadConfigWithPath(configPath)
	if err != nil {
		return nil, errortypes.ConfigError(err, "failed to load configuration")
	}
	if projectRoot != "" {
		cfg.Project.Root = projectRoot
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return researchmemory.NewServer(researchmemory.ServerOptions{Config: cfg})
}

// setupSignalHandler closes the store and exits on SIGINT or SIGTERM.
func setupSignalHandler(s *researchmemory.Server) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		if err := s.Stop(); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}()
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errortypes.ValidationError(fmt.Errorf("invalid id %q", raw), "invalid argument")
	}
	return id, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResults(results []search.Result) error {
	if outputJSON {
		return printJSON(results)
	}
	if len(results) == 0 {
		fmt.Println("No results")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%2d. [%d] %s  (%s, %s)  score %.5f", i+1, r.Record.ID, r.Record.Title, r.Record.Type, r.Record.Namespace, r.CombinedScore)
		if r.LexicalRank > 0 {
			fmt.Printf(" lex #%d", r.LexicalRank)
		}
		if r.VectorRank > 0 {
			fmt.Printf(" vec #%d (%.3f)", r.VectorRank, r.Similarity)
		}
		fmt.Println()
		if r.Record.Summary != "" {
			fmt.Printf("    %s\n", r.Record.Summary)
		}
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "Config file path")
	rootCmd.PersistentFlags().StringVarP(&projectRoot, "root", "r", "", "Research project root (overrides project.root)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error or disabled")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output as JSON")

	serveHTTPCmd.Flags().String("addr", "", "Listen address (default from server.http_addr)")

	syncCmd.Flags().Bool("sessions", false, "Also sync session files")

	searchCmd.Flags().IntP("limit", "k", 0, "Number of results (default from search.default_top_k)")
	searchCmd.Flags().String("namespace", "", "Namespace prefix, e.g. decisions.CP_METHODOLOGY")
	searchCmd.Flags().String("type", "", "Record type: decision, context or note")
	searchCmd.Flags().String("intent", "general", "citation, decision, methodology or general")
	searchCmd.Flags().Float64("lexical-weight", 0.5, "Lexical weight (overrides intent)")
	searchCmd.Flags().Float64("vector-weight", 0.5, "Vector weight (overrides intent)")

	similarCmd.Flags().IntP("limit", "k", 0, "Number of results")

	noteCmd.Flags().String("title", "", "Note title (default: generated summary)")
	noteCmd.Flags().String("namespace", researchmemory.DefaultNoteNamespace, "Namespace")
	noteCmd.Flags().StringSlice("tag", nil, "Tag, repeatable")
	noteCmd.Flags().Int("priority", 0, "Priority")

	initConfigCmd.Flags().Bool("force", false, "Overwrite an existing file")

	rootCmd.AddCommand(serveCmd, serveHTTPCmd, syncCmd, statusCmd, searchCmd, similarCmd, noteCmd, archiveCmd, metricsCmd, initConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
