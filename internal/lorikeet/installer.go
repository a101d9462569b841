package lorikeet

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// assetInstaller fetches plugin dependency bundles from an HTTP package
// index into a local cache directory. A dependency counts as installed when
// its versioned bundle is present in the cache.
type assetInstaller struct {
	dir    string
	index  string
	client *http.Client
}

func newAssetInstaller(dir, index string) *assetInstaller {
	return &assetInstaller{
		dir:    dir,
		index:  strings.TrimRight(index, "/"),
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (i *assetInstaller) bundlePath(name, version string) string {
	if version == "" {
		version = "latest"
	}
	return filepath.Join(i.dir, fmt.Sprintf("%s@%s", name, version))
}

// Installed reports whether the bundle is already cached.
func (i *assetInstaller) Installed(importName, version string) bool {
	_, err := os.Stat(i.bundlePath(importName, version))
	return err == nil
}

// Install downloads the bundle from the index. The caller bounds the attempt
// through ctx.
func (i *assetInstaller) Install(ctx context.Context, installName, version string) error {
	if i.index == "" {
		return fmt.Errorf("install %q: no package index configured", installName)
	}
	if version == "" {
		version = "latest"
	}
	url := fmt.Sprintf("%s/%s@%s", i.index, installName, version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("install %q: %w", installName, err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("install %q: %w", installName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("install %q: index returned %s", installName, resp.Status)
	}

	if err := os.MkdirAll(i.dir, 0o755); err != nil {
		return fmt.Errorf("install %q: %w", installName, err)
	}
	dst := i.bundlePath(installName, version)
	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("install %q: %w", installName, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("install %q: %w", installName, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("install %q: %w", installName, err)
	}
	return os.Rename(tmp, dst)
}
