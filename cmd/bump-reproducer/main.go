// Command bump-reproducer replays candidate breaking updates inside Docker
// containers and records which ones reproduce a build failure.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/chains-project/bump/internal/bumpconfig"
	"github.com/chains-project/bump/internal/candidate"
	"github.com/chains-project/bump/internal/containerrun"
	"github.com/chains-project/bump/internal/forge"
	"github.com/chains-project/bump/internal/jsonstore"
	"github.com/chains-project/bump/internal/reproducer"
	"github.com/chains-project/bump/internal/resultmanager"
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

// registryCredentials is the JSON shape of --github-packages-credentials
// (spec.md §6): { userName, identityToken }.
type registryCredentials struct {
	UserName      string `json:"userName"`
	IdentityToken string `json:"identityToken"`
}

func readRegistryCredentials(path string) (containerrun.RegistryCredentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return containerrun.RegistryCredentials{}, fmt.Errorf("reading registry credentials %s: %w", path, err)
	}
	var creds registryCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return containerrun.RegistryCredentials{}, fmt.Errorf("parsing registry credentials %s: %w", path, err)
	}
	return containerrun.RegistryCredentials{Username: creds.UserName, IdentityToken: creds.IdentityToken}, nil
}

func main() {
	var dev bool
	var bumpConfigPath string

	root := &cobra.Command{
		Use:           "bump-reproducer",
		Short:         "Reproduce candidate breaking dependency updates in Docker",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().BoolVar(&dev, "dev", false, "use text log format (default is JSON)")
	root.PersistentFlags().StringVar(&bumpConfigPath, "bump-config", "", "path to an optional TOML configuration file")

	root.AddCommand(newReproduceCmd(&dev, &bumpConfigPath))

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

func newReproduceCmd(dev *bool, bumpConfigPath *string) *cobra.Command {
	var apiTokensPath, benchmarkDir, unsuccessfulDir, inProgressDir, logDir, jarDir, credentialsPath, file string

	cmd := &cobra.Command{
		Use:   "reproduce",
		Short: "Attempt to reproduce candidate breaking updates",
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

			creds, err := readRegistryCredentials(credentialsPath)
			if err != nil {
				return err
			}

			containers, err := containerrun.New()
			if err != nil {
				return fmt.Errorf("connecting to docker: %w", err)
			}

			forgeClient := forge.NewFromPool(pool, logger)

			cacheOwner, cacheRepo, _ := strings.Cut(cfg.Reproduction.CacheRepository, "/")

			dirs := resultmanager.Dirs{
				Candidates:        inProgressDir,
				Benchmark:         benchmarkDir,
				Unsuccessful:      unsuccessfulDir,
				Logs:              logDir,
				Jars:              jarDir,
				ImageMetadataPath: filepath.Join(filepath.Dir(benchmarkDir), "image_metadata.json"),
			}
			opts := resultmanager.Options{
				RegistryRepository:  cfg.Reproduction.RegistryRepository,
				RegistryCredentials: creds,
				CacheOwner:          cacheOwner,
				CacheRepo:           cacheRepo,
				CacheBranch:         cfg.Reproduction.CacheBranch,
			}
			manager := resultmanager.New(dirs, containers, forgeClient, forgeClient, opts, logger)

			repoOpts := reproducer.Options{
				BaseImage:   cfg.Reproduction.BaseMavenImage,
				MaxAttempts: cfg.Reproduction.MaxAttempts,
			}

			ctx := context.Background()

			var candidatePaths []string
			if file != "" {
				candidatePaths = []string{file}
			} else {
				entries, err := os.ReadDir(inProgressDir)
				if err != nil {
					return fmt.Errorf("reading in-progress reproductions directory %s: %w", inProgressDir, err)
				}
				for _, entry := range entries {
					if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
						continue
					}
					candidatePaths = append(candidatePaths, filepath.Join(inProgressDir, entry.Name()))
				}
			}

			for _, path := range candidatePaths {
				if err := reproduceOne(ctx, containers, manager, logger, repoOpts, path); err != nil {
					logger.Error("failed to process candidate", "file", path, "error", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&apiTokensPath, "api-tokens", "", "path to a file of newline-separated GitHub API tokens")
	cmd.Flags().StringVar(&benchmarkDir, "benchmark-dir", "", "directory where reproduced records are stored")
	cmd.Flags().StringVar(&unsuccessfulDir, "unsuccessful-reproductions-dir", "", "directory where unreproducible attempts are stored")
	cmd.Flags().StringVar(&inProgressDir, "in-progress-reproductions-dir", "", "directory of candidate records awaiting reproduction")
	cmd.Flags().StringVar(&logDir, "log-dir", "", "directory where reproduction build logs are stored")
	cmd.Flags().StringVar(&jarDir, "jar-dir", "", "directory where extracted dependency jars/poms are stored")
	cmd.Flags().StringVar(&credentialsPath, "github-packages-credentials", "", "path to a JSON file of registry push credentials")
	cmd.Flags().StringVar(&file, "file", "", "reproduce a single candidate JSON file instead of the whole directory")
	_ = cmd.MarkFlagRequired("api-tokens")
	_ = cmd.MarkFlagRequired("benchmark-dir")
	_ = cmd.MarkFlagRequired("unsuccessful-reproductions-dir")
	_ = cmd.MarkFlagRequired("in-progress-reproductions-dir")
	_ = cmd.MarkFlagRequired("log-dir")
	_ = cmd.MarkFlagRequired("jar-dir")
	_ = cmd.MarkFlagRequired("github-packages-credentials")
	return cmd
}

// reproduceOne drives one candidate through the reproducer state machine and
// files the outcome into the appropriate partition. A candidate that cannot
// even produce a :base image (e.g. the clone fails) is discarded rather than
// filed anywhere, per spec.md §7's "candidate irrecoverable" edge case.
func reproduceOne(ctx context.Context, containers *containerrun.Runner, manager *resultmanager.Manager, logger *slog.Logger, opts reproducer.Options, path string) error {
	bu, err := jsonstore.ReadFile[candidate.BreakingUpdate](path)
	if err != nil {
		return fmt.Errorf("reading candidate %s: %w", path, err)
	}

	outcome, err := reproducer.Reproduce(ctx, containers, logger, &bu, opts)
	if err != nil {
		logger.Warn("candidate irrecoverable, discarding", "commit", bu.BreakingCommit, "error", err)
		return manager.RemoveCandidateFile(bu.BreakingCommit)
	}

	if outcome.Reproduced {
		if err := manager.StoreLog(bu.BreakingCommit, outcome.Log, true); err != nil {
			logger.Warn("failed to store successful reproduction log", "commit", bu.BreakingCommit, "error", err)
		}
		if err := manager.StoreResult(ctx, &bu, outcome); err != nil {
			return fmt.Errorf("storing result for %s: %w", bu.BreakingCommit, err)
		}
		logger.Info("reproduced breaking update", "commit", bu.BreakingCommit, "category", outcome.FailureCategory)
		return nil
	}

	// A prior run may have already recorded this commit as successfully
	// reproduced; this run's non-reproduction supersedes that record.
	if err := manager.RemoveLog(bu.BreakingCommit, true); err != nil {
		logger.Warn("failed to remove stale successful log", "commit", bu.BreakingCommit, "error", err)
	}
	if outcome.Log != "" {
		if err := manager.StoreLog(bu.BreakingCommit, outcome.Log, false); err != nil {
			logger.Warn("failed to store unsuccessful reproduction log", "commit", bu.BreakingCommit, "error", err)
		}
	}
	if err := manager.SaveUnsuccessful(&bu); err != nil {
		return fmt.Errorf("saving unsuccessful record for %s: %w", bu.BreakingCommit, err)
	}
	logger.Info("did not reproduce breaking update", "commit", bu.BreakingCommit, "flaky", outcome.Flaky, "preWentGreen", outcome.PreWentGreen)
	return nil
}
