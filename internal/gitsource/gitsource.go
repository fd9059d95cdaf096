package gitsource

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/go-git/go-git/v5"
)

// Sync clones a vocabulary repository if it doesn't exist at the given
// path, or pulls the latest changes if it does.
func Sync(url, localPath string) error {
	_, err := os.Stat(localPath)
	if os.IsNotExist(err) {
		slog.Info("Cloning vocabulary repository", "url", url, "path", localPath)
		_, err := git.PlainClone(localPath, false, &git.CloneOptions{
			URL: url,
		})
		if err != nil {
			return fmt.Errorf("failed to clone repo %s: %w", url, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("error checking path %s: %w", localPath, err)
	}

	slog.Info("Pulling vocabulary repository", "path", localPath)
	repo, err := git.PlainOpen(localPath)
	if err != nil {
		return fmt.Errorf("failed to open existing repo at %s: %w", localPath, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree for repo at %s: %w", localPath, err)
	}

	err = worktree.Pull(&git.PullOptions{RemoteName: "origin"})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("failed to pull changes for repo at %s: %w", localPath, err)
	}
	return nil
}
