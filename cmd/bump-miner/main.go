// Command bump-miner discovers candidate Maven repositories and mines
// their pull request history for breaking dependency updates.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chains-project/bump/internal/bumpconfig"
	"github.com/chains-project/bump/internal/candidate"
	"github.com/chains-project/bump/internal/forge"
	"github.com/chains-project/bump/internal/jsonstore"
	"github.com/chains-project/bump/internal/miner"
	"github.com/chains-project/bump/internal/patchcache"
	"github.com/chains-project/bump/internal/repoindex"
	"github.com/chains-project/bump/internal/tokenpool"
	"github.com/spf13/cobra"
)

func configureLogger(dev bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if dev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func readTokens(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading api tokens file %s: %w", path, err)
	}
	var tokens []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			tokens = append(tokens, line)
		}
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("api tokens file %s contains no tokens", path)
	}
	return tokens, nil
}

// searchConfig is the JSON shape of --search-config (spec.md §6).
type searchConfig struct {
	MinNumberOfStars     int    `json:"minNumberOfStars"`
	EarliestCreationDate string `json:"earliestCreationDate"`
}

func readSearchConfig(path string) (searchConfig, error) {
	var cfg searchConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading search config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing search config %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	var dev bool
	var bumpConfigPath string

	root := &cobra.Command{
		Use:           "bump-miner",
		Short:         "Discover and mine Maven repositories for breaking dependency updates",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().BoolVar(&dev, "dev", false, "use text log format (default is JSON)")
	root.PersistentFlags().StringVar(&bumpConfigPath, "bump-config", "", "path to an optional TOML configuration file")

	root.AddCommand(newFindCmd(&dev, &bumpConfigPath), newMineCmd(&dev))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadBumpConfig(path string) (*bumpconfig.Config, error) {
	if path == "" {
		return bumpconfig.Default(), nil
	}
	return bumpconfig.Load(path)
}

func newFindCmd(dev *bool, bumpConfigPath *string) *cobra.Command {
	var apiTokensPath, outputDirectory, searchConfigPath, reposPath, last string

	cmd := &cobra.Command{
		Use:   "find",
		Short: "Find Maven repositories with pull-request-triggered CI",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := configureLogger(*dev)
			cfg, err := loadBumpConfig(*bumpConfigPath)
			if err != nil {
				return err
			}

			tokens, err := readTokens(apiTokensPath)
			if err != nil {
				return err
			}
			pool := tokenpool.New(tokens)

			search, err := readSearchConfig(searchConfigPath)
			if err != nil {
				return err
			}

			if reposPath == "" {
				reposPath = filepath.Join(outputDirectory, "found_repositories.json")
			}
			index, err := repoindex.Load(reposPath)
			if err != nil {
				return err
			}

			cutoffYear := cfg.Mining.SearchCutoffYear
			if earliest, err := time.Parse("2006-01-02", search.EarliestCreationDate); err == nil {
				cutoffYear = earliest.Year()
			}

			today := time.Now().UTC()
			if last != "" {
				parsed, err := jsonstore.ParseTime(last)
				if err != nil {
					return fmt.Errorf("parsing --last: %w", err)
				}
				today = parsed
			}

			probe := forge.NewFromPool(pool, logger)
			ctx := context.Background()
			checkpoint := func(repo miner.RepositoryRef) error {
				// Keep any existing watermark; a newly found repository stays
				// "never checked" until mine has walked it.
				entry, _ := index.Get(repo.Owner, repo.Name)
				entry.URL = fmt.Sprintf("https://github.com/%s/%s", repo.Owner, repo.Name)
				index.Set(repo.Owner, repo.Name, entry)
				return index.Save()
			}
			found, err := miner.Find(ctx, probe, logger, miner.FindOptions{
				MinStars:   search.MinNumberOfStars,
				CutoffYear: cutoffYear,
				Today:      today,
			}, checkpoint)
			if err != nil {
				return err
			}

			logger.Info("find complete", "repositories_found", len(found), "repos_file", reposPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&apiTokensPath, "api-tokens", "", "path to a file of newline-separated GitHub API tokens")
	cmd.Flags().StringVar(&outputDirectory, "output-directory", "", "directory where output data is stored")
	cmd.Flags().StringVar(&searchConfigPath, "search-config", "", "path to the repository search configuration JSON")
	cmd.Flags().StringVar(&reposPath, "repos", "", "path to a previously found repositories JSON file")
	cmd.Flags().StringVar(&last, "last", "", "most recent repository-creation date to start the backward search from")
	_ = cmd.MarkFlagRequired("api-tokens")
	_ = cmd.MarkFlagRequired("output-directory")
	_ = cmd.MarkFlagRequired("search-config")
	return cmd
}

func newMineCmd(dev *bool) *cobra.Command {
	var apiTokensPath, outputDirectory, reposPath string

	cmd := &cobra.Command{
		Use:   "mine",
		Short: "Mine known repositories for breaking dependency update candidates",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := configureLogger(*dev)

			tokens, err := readTokens(apiTokensPath)
			if err != nil {
				return err
			}
			pool := tokenpool.New(tokens)

			index, err := repoindex.Load(reposPath)
			if err != nil {
				return err
			}

			var repos []miner.MineOptions
			for name, entry := range allEntries(index) {
				owner, repo, ok := strings.Cut(name, "/")
				if !ok {
					logger.Warn("skipping malformed repository name", "name", name)
					continue
				}
				since, err := jsonstore.ParseTime(entry.LastCheckedAt)
				if err != nil {
					logger.Warn("ignoring unparsable lastCheckedAt watermark", "repo", name, "error", err)
					since = time.Time{}
				}
				repos = append(repos, miner.MineOptions{Owner: owner, Repo: repo, Since: since})
			}

			ctx := context.Background()
			newForge := func() miner.Forge {
				return miner.NewForgeAdapter(forge.NewFromPool(pool, logger))
			}
			newCache := func() *patchcache.Cache { return patchcache.New() }

			var mu sync.Mutex
			total := 0
			checkpoint := func(owner, repo string, bus []candidate.BreakingUpdate) error {
				for _, bu := range bus {
					path := filepath.Join(outputDirectory, "candidates", bu.BreakingCommit+".json")
					if err := jsonstore.WriteFile(path, &bu); err != nil {
						return fmt.Errorf("writing candidate %s: %w", bu.BreakingCommit, err)
					}
				}
				entry, _ := index.Get(owner, repo)
				entry.LastCheckedAt = jsonstore.FormatTime(time.Now())
				index.Set(owner, repo, entry)
				if err := index.Save(); err != nil {
					return fmt.Errorf("checkpointing repository index for %s/%s: %w", owner, repo, err)
				}
				mu.Lock()
				total += len(bus)
				mu.Unlock()
				return nil
			}

			if _, err := miner.MineAll(ctx, newForge, newCache, logger, pool.Size(), repos, checkpoint); err != nil {
				return err
			}

			logger.Info("mine complete", "repositories", len(repos), "candidates_found", total)
			return nil
		},
	}

	cmd.Flags().StringVar(&apiTokensPath, "api-tokens", "", "path to a file of newline-separated GitHub API tokens")
	cmd.Flags().StringVar(&outputDirectory, "output-directory", "", "directory where output data is stored")
	cmd.Flags().StringVar(&reposPath, "repos", "", "path to a repositories JSON file, as produced by find")
	_ = cmd.MarkFlagRequired("api-tokens")
	_ = cmd.MarkFlagRequired("output-directory")
	_ = cmd.MarkFlagRequired("repos")
	return cmd
}

func allEntries(index *repoindex.Index) map[string]repoindex.Entry {
	return index.All()
}
