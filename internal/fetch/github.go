package fetch

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
)

// DefaultGitHubBaseURL is where repository archives are fetched from.
const DefaultGitHubBaseURL = "https://github.com"

// Repository identifies a branch of a GitHub repository.
type Repository struct {
	Owner  string
	Name   string
	Branch string
	// BaseURL overrides DefaultGitHubBaseURL.
	BaseURL string
}

// ArchiveURL returns the zip download URL of the branch head.
func (r Repository) ArchiveURL() string {
	base := strings.TrimRight(r.BaseURL, "/")
	if base == "" {
		base = DefaultGitHubBaseURL
	}
	branch := r.Branch
	if branch == "" {
		branch = "main"
	}
	return fmt.Sprintf("%s/%s/%s/archive/refs/heads/%s.zip", base, r.Owner, r.Name, branch)
}

func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

// FetchRepository downloads the branch archive into destDir, unpacks it and
// returns the root directory of the extracted tree (for GitHub archives
// "<name>-<branch>").
func (f *Fetcher) FetchRepository(ctx context.Context, repo Repository, destDir string) (string, error) {
	if repo.Owner == "" || repo.Name == "" {
		return "", fmt.Errorf("repository owner and name are required")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", destDir, err)
	}
	url := repo.ArchiveURL()
	log.Printf("[Fetch] downloading %s from %s", repo, url)

	path, err := f.Download(ctx, url, destDir, nil)
	if err != nil {
		return "", err
	}
	defer os.Remove(path)

	root, err := f.Unpack(ctx, path, destDir)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", repo, err)
	}
	return root, nil
}
