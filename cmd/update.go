// Package cmd holds helpers shared by the binaries under cmd/.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-version"
	"go.uber.org/zap"
)

// AppVersion is set at build time with -ldflags "-X github.com/nulzo/gptload-sync/cmd.AppVersion=...".
var AppVersion = "v0.0.0"

var releaseURL = "https://api.github.com/repos/%s/releases/latest"

type GitHubRelease struct {
	TagName string `json:"tag_name"`
}

// LatestRelease returns the newest release tag of repo ("owner/name") when it is newer
// than current, or "" when current is up to date.
func LatestRelease(ctx context.Context, client *http.Client, repo, current string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(releaseURL, repo), nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("release lookup returned status %d", resp.StatusCode)
	}

	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", err
	}

	cur, err := version.NewVersion(current)
	if err != nil {
		return "", fmt.Errorf("parse current version: %w", err)
	}
	latest, err := version.NewVersion(release.TagName)
	if err != nil {
		return "", fmt.Errorf("parse release tag %q: %w", release.TagName, err)
	}

	if cur.LessThan(latest) {
		return release.TagName, nil
	}
	return "", nil
}

// CheckForUpdates logs a warning when a newer release exists. Failures are only logged
// at debug level.
func CheckForUpdates(ctx context.Context, repo string, logger *zap.Logger) {
	client := &http.Client{Timeout: 2 * time.Second}

	latest, err := LatestRelease(ctx, client, repo, AppVersion)
	if err != nil {
		logger.Debug("update check failed", zap.Error(err))
		return
	}
	if latest != "" {
		logger.Warn("a newer version is available",
			zap.String("current", AppVersion),
			zap.String("latest", latest))
	}
}
