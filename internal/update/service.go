package update

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"talkpaste/internal/domain"
)

const checksumsAsset = "checksums.txt"

// Config describes where releases come from and which binary to replace.
type Config struct {
	Repo           string
	CurrentVersion string
	AssetName      string
	APIBaseURL     string

	HTTPClient *http.Client
	// ExecPath is the binary to replace; defaults to the running executable.
	ExecPath string
	// Exit terminates the process after a relaunch; defaults to os.Exit.
	Exit   func(code int)
	Logger zerolog.Logger
}

// Service checks GitHub releases and installs them in place. It implements
// ports.UpdateService.
type Service struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger
}

type ghRelease struct {
	TagName string    `json:"tag_name"`
	Body    string    `json:"body"`
	Assets  []ghAsset `json:"assets"`
}

type ghAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

func NewService(cfg Config) *Service {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.github.com"
	}
	if cfg.AssetName == "" {
		cfg.AssetName = DefaultAssetName()
	}
	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Service{
		cfg:    cfg,
		client: client,
		logger: cfg.Logger.With().Str("component", "update").Logger(),
	}
}

// DefaultAssetName is the release asset built for this platform.
func DefaultAssetName() string {
	return fmt.Sprintf("talkpaste_%s_%s", runtime.GOOS, runtime.GOARCH)
}

// Check returns the latest release when it is newer than the running
// version, or nil. Development builds never update.
func (s *Service) Check(ctx context.Context) (*domain.UpdateDescriptor, error) {
	if s.cfg.CurrentVersion == "" || s.cfg.CurrentVersion == "dev" {
		return nil, nil
	}

	url := fmt.Sprintf("%s/repos/%s/releases/latest", strings.TrimRight(s.cfg.APIBaseURL, "/"), s.cfg.Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &domain.UpdateError{Op: "check", Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &domain.UpdateError{Op: "check", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.UpdateError{Op: "check", Err: fmt.Errorf("github api: %s", resp.Status)}
	}

	var rel ghRelease
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, &domain.UpdateError{Op: "check", Err: fmt.Errorf("decode release: %w", err)}
	}

	if !NewerThan(rel.TagName, s.cfg.CurrentVersion) {
		s.logger.Debug().Str("latest", rel.TagName).Str("current", s.cfg.CurrentVersion).Msg("up to date")
		return nil, nil
	}

	descriptor := &domain.UpdateDescriptor{Version: rel.TagName, Notes: rel.Body}
	for _, asset := range rel.Assets {
		switch asset.Name {
		case s.cfg.AssetName:
			descriptor.AssetURL = asset.BrowserDownloadURL
		case checksumsAsset:
			descriptor.ChecksumURL = asset.BrowserDownloadURL
		}
	}
	if descriptor.AssetURL == "" {
		return nil, &domain.UpdateError{Op: "check", Err: fmt.Errorf("no asset %q in release %s", s.cfg.AssetName, rel.TagName)}
	}
	return descriptor, nil
}

// DownloadAndInstall streams the release asset next to the executable,
// verifies its checksum when one is published, and swaps it in atomically.
// Progress is reported on events; the caller owns the channel.
func (s *Service) DownloadAndInstall(ctx context.Context, release domain.UpdateDescriptor, events chan<- domain.DownloadEvent) error {
	execPath, err := s.execPath()
	if err != nil {
		return &domain.UpdateError{Op: "install", Err: err}
	}

	// Same directory keeps the final rename on one filesystem.
	tmpFile, err := os.CreateTemp(filepath.Dir(execPath), ".talkpaste-update-*")
	if err != nil {
		return &domain.UpdateError{Op: "download", Err: fmt.Errorf("create temp file: %w", err)}
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	actualHash, err := s.download(ctx, release.AssetURL, tmpFile, events)
	if closeErr := tmpFile.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return &domain.UpdateError{Op: "download", Err: err}
	}

	if release.ChecksumURL != "" {
		expectedHash, err := s.fetchExpectedHash(ctx, release.ChecksumURL)
		if err != nil {
			return &domain.UpdateError{Op: "verify", Err: fmt.Errorf("fetch checksums: %w", err)}
		}
		if !strings.EqualFold(actualHash, expectedHash) {
			return &domain.UpdateError{Op: "verify", Err: fmt.Errorf("checksum mismatch: got %s, want %s", short(actualHash), short(expectedHash))}
		}
	}

	if err := os.Chmod(tmpPath, 0o755); err != nil {
		return &domain.UpdateError{Op: "install", Err: fmt.Errorf("chmod: %w", err)}
	}

	oldPath := execPath + ".old"
	if err := os.Rename(execPath, oldPath); err != nil {
		return &domain.UpdateError{Op: "install", Err: fmt.Errorf("backup current binary: %w", err)}
	}
	if err := os.Rename(tmpPath, execPath); err != nil {
		_ = os.Rename(oldPath, execPath)
		return &domain.UpdateError{Op: "install", Err: fmt.Errorf("install new binary: %w", err)}
	}
	_ = os.Remove(oldPath)

	s.logger.Info().Str("version", release.Version).Str("path", execPath).Msg("update installed")
	return nil
}

// Relaunch starts the installed binary with the current arguments and exits.
func (s *Service) Relaunch() error {
	execPath, err := s.execPath()
	if err != nil {
		return &domain.UpdateError{Op: "relaunch", Err: err}
	}

	cmd := exec.Command(execPath, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return &domain.UpdateError{Op: "relaunch", Err: err}
	}
	_ = cmd.Process.Release()

	s.logger.Info().Int("pid", cmd.Process.Pid).Msg("relaunched")
	s.cfg.Exit(0)
	return nil
}

func (s *Service) download(ctx context.Context, url string, dst io.Writer, events chan<- domain.DownloadEvent) (string, error) {
	if url == "" {
		return "", errors.New("release has no download url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download binary: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download binary: %s", resp.Status)
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	if err := emit(ctx, events, domain.DownloadEvent{Kind: domain.DownloadStarted, ContentLength: total}); err != nil {
		return "", err
	}

	hasher := sha256.New()
	src := &progressReader{ctx: ctx, r: resp.Body, events: events}
	if _, err := io.Copy(io.MultiWriter(dst, hasher), src); err != nil {
		return "", fmt.Errorf("write binary: %w", err)
	}

	if err := emit(ctx, events, domain.DownloadEvent{Kind: domain.DownloadFinished}); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func (s *Service) fetchExpectedHash(ctx context.Context, checksumURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checksumURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("checksums: %s", resp.Status)
	}

	// Format: "<hash>  <filename>"
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) == 2 && parts[1] == s.cfg.AssetName {
			return parts[0], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no checksum for %s", s.cfg.AssetName)
}

func (s *Service) execPath() (string, error) {
	path := s.cfg.ExecPath
	if path == "" {
		var err error
		path, err = os.Executable()
		if err != nil {
			return "", fmt.Errorf("find executable: %w", err)
		}
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("resolve symlinks: %w", err)
	}
	return resolved, nil
}

type progressReader struct {
	ctx    context.Context
	r      io.Reader
	events chan<- domain.DownloadEvent
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		if emitErr := emit(p.ctx, p.events, domain.DownloadEvent{Kind: domain.DownloadProgress, ChunkLength: int64(n)}); emitErr != nil {
			return n, emitErr
		}
	}
	return n, err
}

func emit(ctx context.Context, events chan<- domain.DownloadEvent, event domain.DownloadEvent) error {
	if events == nil {
		return nil
	}
	select {
	case events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
