package importer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conorfennell/kotoba/internal/domain"
	"github.com/conorfennell/kotoba/internal/fingerprint"
	"github.com/conorfennell/kotoba/internal/gitsource"
	"github.com/conorfennell/kotoba/internal/parser"
	"github.com/conorfennell/kotoba/internal/storage"
)

// Run iterates over all configured vocabulary sources and registers any
// pairs not yet present for the source's owner. This is the registration
// flow that feeds the review engine; newly inserted items enter the interval
// schedule from today.
func Run(ctx context.Context, db *storage.DB, reposDir string) error {
	slog.Info("Starting import for all sources...")
	sources, err := db.GetAllSources(ctx)
	if err != nil {
		return fmt.Errorf("failed to get sources: %w", err)
	}

	if len(sources) == 0 {
		slog.Info("No sources configured")
		return nil
	}

	if err := os.MkdirAll(reposDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create repos directory: %w", err)
	}

	for _, source := range sources {
		slog.Info("Importing source", "id", source.ID, "type", source.Type, "path", source.Path, "owner", source.OwnerID)

		localPath := source.Path
		if source.Type == "git" {
			localPath, err = gitURLToLocalPath(reposDir, source.Path)
			if err != nil {
				slog.Error("Error determining local path for git repo", "url", source.Path, "error", err)
				continue
			}
			if err := gitsource.Sync(source.Path, localPath); err != nil {
				slog.Error("Error syncing git repo", "url", source.Path, "error", err)
				continue
			}
		}

		importLocalSource(ctx, db, source, localPath)
	}
	slog.Info("Import complete.")
	return nil
}

func importLocalSource(ctx context.Context, db *storage.DB, source storage.Source, localPath string) {
	var inserted, skipped int
	var importErrors []error

	walkErr := filepath.WalkDir(localPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isVocabFile(d.Name()) {
			return nil
		}
		pairs, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			importErrors = append(importErrors, fmt.Errorf("parsing %s: %w", path, parseErr))
			return nil
		}
		for _, pair := range pairs {
			fp := fingerprint.Hash(pair.Term, pair.Definition)
			existing, findErr := db.FindItemByFingerprint(ctx, source.OwnerID, fp)
			if findErr != nil {
				importErrors = append(importErrors, fmt.Errorf("db check for %s: %w", pair.Term, findErr))
				continue
			}
			if existing != nil {
				skipped++
				continue
			}
			item := domain.Item{
				OwnerID:    source.OwnerID,
				Term:       pair.Term,
				Definition: pair.Definition,
				CreatedAt:  time.Now(),
			}
			if _, insertErr := db.InsertItem(ctx, item, fp); insertErr != nil {
				importErrors = append(importErrors, fmt.Errorf("db insert for %s: %w", pair.Term, insertErr))
				continue
			}
			inserted++
		}
		return nil
	})

	if walkErr != nil {
		slog.Error("Error walking directory", "path", localPath, "error", walkErr)
		return
	}

	if err := db.UpdateSourceLastScanned(ctx, source.ID); err != nil {
		slog.Warn("Failed to update last scanned for source", "source_id", source.ID, "error", err)
	}

	slog.Info("import complete",
		"path", localPath,
		"owner", source.OwnerID,
		"inserted", inserted,
		"skipped", skipped,
		"errors", len(importErrors),
	)
}

func isVocabFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".txt") || strings.HasSuffix(lower, ".md")
}

func gitURLToLocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil || (parsedURL.Scheme != "https" && parsedURL.Scheme != "http") {
		if strings.Contains(repoURL, "@") {
			parts := strings.Split(repoURL, ":")
			if len(parts) == 2 {
				hostAndUser := strings.Split(parts[0], "@")
				if len(hostAndUser) == 2 {
					host := hostAndUser[1]
					repoPath := strings.TrimSuffix(parts[1], ".git")
					return filepath.Join(baseDir, host, repoPath), nil
				}
			}
		}
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}

	sanitizedPath := strings.TrimSuffix(parsedURL.Path, ".git")
	return filepath.Join(baseDir, parsedURL.Host, sanitizedPath), nil
}
