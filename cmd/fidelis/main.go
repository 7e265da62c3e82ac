package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/server"

	"github.com/caretext/fidelis/internal/config"
	"github.com/caretext/fidelis/internal/dedup"
	"github.com/caretext/fidelis/internal/mcp"
	"github.com/caretext/fidelis/internal/registry"
	"github.com/caretext/fidelis/internal/semantic"
	"github.com/caretext/fidelis/internal/similarity"
	"github.com/caretext/fidelis/internal/store"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "score":
		if err := runScore(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "dedup":
		if err := runDedup(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "extract":
		if err := runExtract(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "reports":
		if err := runReports(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "mcp":
		if err := runMCP(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "config":
		if err := runConfig(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Printf("fidelis %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// cliFlags are the flags shared by every subcommand: config file location
// plus the overrides that feed config.ResolveConfig.
type cliFlags struct {
	configPath string
	embed      string
	dbPath     string
	threshold  string
	rules      string
	rest       []string
}

// splitFlags peels the shared flags off args, returning everything else in
// rest for the subcommand to parse.
func splitFlags(args []string) (cliFlags, error) {
	var f cliFlags
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config" && i+1 < len(args):
			i++
			f.configPath = args[i]
		case strings.HasPrefix(args[i], "--config="):
			f.configPath = strings.TrimPrefix(args[i], "--config=")
		case args[i] == "--embed" && i+1 < len(args):
			i++
			f.embed = args[i]
		case strings.HasPrefix(args[i], "--embed="):
			f.embed = strings.TrimPrefix(args[i], "--embed=")
		case args[i] == "--db" && i+1 < len(args):
			i++
			f.dbPath = args[i]
		case strings.HasPrefix(args[i], "--db="):
			f.dbPath = strings.TrimPrefix(args[i], "--db=")
		case args[i] == "--threshold" && i+1 < len(args):
			i++
			f.threshold = args[i]
		case strings.HasPrefix(args[i], "--threshold="):
			f.threshold = strings.TrimPrefix(args[i], "--threshold=")
		case args[i] == "--rules" && i+1 < len(args):
			i++
			f.rules = args[i]
		case strings.HasPrefix(args[i], "--rules="):
			f.rules = strings.TrimPrefix(args[i], "--rules=")
		default:
			f.rest = append(f.rest, args[i])
		}
	}
	return f, nil
}

func resolveConfig(f cliFlags) (config.ResolvedConfig, error) {
	return config.ResolveConfig(config.ResolveOptions{
		ConfigPath:   f.configPath,
		CLIEmbed:     f.embed,
		CLIDBPath:    f.dbPath,
		CLIThreshold: f.threshold,
		CLIRules:     f.rules,
	})
}

// buildEngine wires the similarity engine from resolved config: weights from
// the config file, semantic provider from the embed flag when one is set.
func buildEngine(cfg config.ResolvedConfig) (*similarity.Engine, error) {
	defaults := similarity.DefaultWeights()
	jac, lev, sem, err := cfg.WeightValues(defaults.Jaccard, defaults.Levenshtein, defaults.Semantic)
	if err != nil {
		return nil, err
	}

	var provider similarity.Provider
	embedCfg, err := semantic.ResolveConfig(cfg.EmbedProvider.Value)
	if err != nil {
		return nil, err
	}
	if embedCfg != nil {
		if cfg.EmbedEndpoint.Value != "" {
			embedCfg.Endpoint = cfg.EmbedEndpoint.Value
		}
		if cfg.EmbedAPIKey.Value != "" {
			embedCfg.APIKey = cfg.EmbedAPIKey.Value
		}
		if err := embedCfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid embedding config: %w", err)
		}
		comparer, err := semantic.NewProvider(embedCfg)
		if err != nil {
			return nil, fmt.Errorf("creating semantic provider: %w", err)
		}
		provider = comparer
	}

	return similarity.NewEngine(similarity.EngineConfig{
		Weights:  similarity.Weights{Jaccard: jac, Levenshtein: lev, Semantic: sem},
		Provider: provider,
	})
}

// loadRegistry returns the rules registry for the resolved config, falling
// back to the compiled-in default when no rules file is configured.
func loadRegistry(cfg config.ResolvedConfig) (*registry.Registry, error) {
	if cfg.RulesPath.Value == "" {
		return registry.Default(), nil
	}
	return registry.Load(cfg.RulesPath.Value)
}

func openStore(cfg config.ResolvedConfig) (store.Store, error) {
	return store.NewStore(store.StoreConfig{DBPath: cfg.DBPath.Value})
}

// readInput reads a file argument, treating "-" as stdin.
func readInput(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

func runMCP(args []string) error {
	f, err := splitFlags(args)
	if err != nil {
		return err
	}
	cfg, err := resolveConfig(f)
	if err != nil {
		return err
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	svc, err := dedup.NewService(engine)
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	srv, err := mcp.NewServer(mcp.ServerConfig{
		Store:    st,
		Engine:   engine,
		Dedup:    svc,
		Registry: reg,
		Version:  version,
	})
	if err != nil {
		return err
	}
	return server.ServeStdio(srv)
}

func runConfig(args []string) error {
	f, err := splitFlags(args)
	if err != nil {
		return err
	}
	cfg, err := resolveConfig(f)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runReports(args []string) error {
	f, err := splitFlags(args)
	if err != nil {
		return err
	}

	opts := store.ListOpts{Limit: 20}
	for i := 0; i < len(f.rest); i++ {
		switch {
		case f.rest[i] == "--note" && i+1 < len(f.rest):
			i++
			id, err := strconv.ParseInt(f.rest[i], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid note id %q", f.rest[i])
			}
			opts.NoteID = id
		case f.rest[i] == "--dimension" && i+1 < len(f.rest):
			i++
			opts.Dimension = f.rest[i]
		case f.rest[i] == "--limit" && i+1 < len(f.rest):
			i++
			n, err := strconv.Atoi(f.rest[i])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid limit %q", f.rest[i])
			}
			opts.Limit = n
		default:
			return fmt.Errorf("unknown argument: %s", f.rest[i])
		}
	}

	cfg, err := resolveConfig(f)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	reports, err := st.ListReports(context.Background(), opts)
	if err != nil {
		return err
	}

	if len(reports) == 0 {
		fmt.Println("No reports stored.")
		return nil
	}

	fmt.Printf("%-5s %-7s %-12s %-7s %-7s %s\n", "ID", "NOTE", "DIMENSION", "SCORE", "RAW", "CREATED")
	for _, r := range reports {
		flag := ""
		if r.PenaltyApplied {
			flag = " *"
		}
		fmt.Printf("%-5d %-7d %-12s %-7.2f %-7.2f %s%s\n",
			r.ID, r.NoteID, r.Dimension, r.Score, r.RawScore,
			r.CreatedAt.Format("2006-01-02 15:04"), flag)
	}
	return nil
}

func printUsage() {
	fmt.Printf(`fidelis %s — Quality scoring and deduplication for clinical narratives

Usage:
  fidelis <command> [arguments]

Commands:
  score       Score a generated narrative against source notes
  dedup       Deduplicate a list of text items
  extract     Extract a structured record from clinical notes
  reports     List stored quality reports
  mcp         Serve the MCP stdio interface
  config      Print the resolved configuration with value sources
  version     Print version

Shared Flags:
  --config <path>      Config file (default ~/.fidelis/config.yaml)
  --db <path>          SQLite database path
  --embed <prov/model> Embedding backend, e.g. ollama/nomic-embed-text
  --threshold <t>      Dedup similarity threshold (default 0.85)
  --rules <path>       Extraction rules YAML (default: compiled-in rules)

Score Flags:
  --notes <file>       Source notes (required; "-" for stdin)
  --narrative <file>   Generated narrative to score
  --record <file>      Extracted record JSON (default: extract from notes)
  --strict <bool>      Strict accuracy validation (default true)
  --precise <bool>     Require precise values in specificity (default true)
  --save               Persist the note and reports to the store
  --format <fmt>       Output format: markdown or json (default markdown)

Dedup Flags:
  --mode <mode>        dedupe, confidence, merge, or exact (default dedupe)
  --json               Emit JSON instead of plain text

Flags:
  -h, --help           Show this help message
  -v, --version        Print version
`, version)
}
