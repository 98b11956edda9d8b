package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"talkpaste/internal/domain"
)

func TestUpdateControllerCheckNoUpdate(t *testing.T) {
	t.Parallel()

	service := &fakeUpdateService{}
	events := &fakeEventSink{}
	updater := NewUpdateController(service, events, zerolog.Nop())

	if updater.CheckForUpdates(context.Background()) {
		t.Fatalf("expected no update")
	}

	state := updater.State()
	if state.Status != domain.UpdateStatusIdle || state.Info != nil {
		t.Fatalf("unexpected state: %+v", state)
	}

	updates := events.snapshotUpdates()
	if len(updates) != 2 || updates[0].Status != domain.UpdateStatusChecking {
		t.Fatalf("expected checking then idle, got %+v", updates)
	}
}

func TestUpdateControllerCheckFindsUpdate(t *testing.T) {
	t.Parallel()

	service := &fakeUpdateService{release: &domain.UpdateDescriptor{Version: "v1.2.0", Notes: "Faster paste"}}
	updater := NewUpdateController(service, &fakeEventSink{}, zerolog.Nop())

	if !updater.CheckForUpdates(context.Background()) {
		t.Fatalf("expected update")
	}
	state := updater.State()
	if state.Status != domain.UpdateStatusAvailable {
		t.Fatalf("unexpected status: %s", state.Status)
	}
	if state.Info == nil || state.Info.Version != "v1.2.0" || state.Info.Body != "Faster paste" {
		t.Fatalf("unexpected info: %+v", state.Info)
	}

	// Repeated checks are safe.
	if !updater.CheckForUpdates(context.Background()) {
		t.Fatalf("expected update on re-check")
	}
	if service.checkCount() != 2 {
		t.Fatalf("expected two checks, got %d", service.checkCount())
	}
}

func TestUpdateControllerCheckFailure(t *testing.T) {
	t.Parallel()

	service := &fakeUpdateService{checkErr: errors.New("github api: 503")}
	updater := NewUpdateController(service, &fakeEventSink{}, zerolog.Nop())

	if updater.CheckForUpdates(context.Background()) {
		t.Fatalf("expected false on failure")
	}
	state := updater.State()
	if state.Status != domain.UpdateStatusError || state.Error != "github api: 503" {
		t.Fatalf("unexpected state: %+v", state)
	}

	service.setCheckErr(nil)
	updater.CheckForUpdates(context.Background())
	if got := updater.State(); got.Status != domain.UpdateStatusIdle || got.Error != "" {
		t.Fatalf("re-check must clear the error: %+v", got)
	}
}

func TestUpdateControllerCheckIgnoredWhileDownloading(t *testing.T) {
	t.Parallel()

	service := &fakeUpdateService{release: &domain.UpdateDescriptor{Version: "v2.0.0"}}
	updater := NewUpdateController(service, &fakeEventSink{}, zerolog.Nop())
	updater.state.Status = domain.UpdateStatusDownloading

	if updater.CheckForUpdates(context.Background()) {
		t.Fatalf("check during download must be ignored")
	}
	if service.checkCount() != 0 {
		t.Fatalf("service must not be called")
	}
}

func TestUpdateControllerDownloadAndInstall(t *testing.T) {
	t.Parallel()

	service := &fakeUpdateService{
		release: &domain.UpdateDescriptor{Version: "v1.3.0"},
		stream: []domain.DownloadEvent{
			{Kind: domain.DownloadStarted, ContentLength: 1000},
			{Kind: domain.DownloadProgress, ChunkLength: 400},
			{Kind: domain.DownloadProgress, ChunkLength: 600},
			{Kind: domain.DownloadFinished},
		},
	}
	events := &fakeEventSink{}
	updater := NewUpdateController(service, events, zerolog.Nop())

	if err := updater.DownloadAndInstall(context.Background()); err != nil {
		t.Fatalf("download failed: %v", err)
	}

	state := updater.State()
	if state.Status != domain.UpdateStatusReady || state.Progress != 100 {
		t.Fatalf("unexpected final state: %+v", state)
	}
	if service.checkCount() != 1 {
		t.Fatalf("expected the release to be re-resolved, got %d checks", service.checkCount())
	}

	var last float64
	sawNinetyNine := false
	for _, update := range events.snapshotUpdates() {
		if update.Progress < last {
			t.Fatalf("progress decreased: %v -> %v", last, update.Progress)
		}
		if update.Progress == 99 {
			sawNinetyNine = true
		}
		last = update.Progress
	}
	if !sawNinetyNine {
		t.Fatalf("expected progress to be capped at 99 before finished")
	}
}

func TestUpdateControllerDownloadNoLongerAvailable(t *testing.T) {
	t.Parallel()

	service := &fakeUpdateService{}
	updater := NewUpdateController(service, &fakeEventSink{}, zerolog.Nop())

	if err := updater.DownloadAndInstall(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := updater.State().Status; got != domain.UpdateStatusIdle {
		t.Fatalf("expected idle, got %s", got)
	}
	if service.downloadCount() != 0 {
		t.Fatalf("nothing to download")
	}
}

func TestUpdateControllerDownloadFailure(t *testing.T) {
	t.Parallel()

	service := &fakeUpdateService{
		release:     &domain.UpdateDescriptor{Version: "v1.3.0"},
		stream:      []domain.DownloadEvent{{Kind: domain.DownloadStarted, ContentLength: 10}},
		downloadErr: &domain.UpdateError{Op: "download", Err: errors.New("checksum mismatch")},
	}
	updater := NewUpdateController(service, &fakeEventSink{}, zerolog.Nop())

	err := updater.DownloadAndInstall(context.Background())
	var updateErr *domain.UpdateError
	if !errors.As(err, &updateErr) {
		t.Fatalf("expected UpdateError, got %v", err)
	}
	state := updater.State()
	if state.Status != domain.UpdateStatusError || state.Error == "" {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestUpdateControllerRestart(t *testing.T) {
	t.Parallel()

	service := &fakeUpdateService{}
	updater := NewUpdateController(service, &fakeEventSink{}, zerolog.Nop())
	if err := updater.RestartApp(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if service.relaunches != 1 {
		t.Fatalf("expected one relaunch, got %d", service.relaunches)
	}
}

func TestDownloadProgressUnknownLength(t *testing.T) {
	t.Parallel()

	var p downloadProgress
	p = p.apply(domain.DownloadEvent{Kind: domain.DownloadStarted})
	p = p.apply(domain.DownloadEvent{Kind: domain.DownloadProgress, ChunkLength: 2_000_000})
	if p.percent != 20 {
		t.Fatalf("expected 10%% per megabyte, got %v", p.percent)
	}
	p = p.apply(domain.DownloadEvent{Kind: domain.DownloadProgress, ChunkLength: 50_000_000})
	if p.percent != 99 {
		t.Fatalf("expected cap at 99, got %v", p.percent)
	}
	p = p.apply(domain.DownloadEvent{Kind: domain.DownloadFinished})
	if p.percent != 100 {
		t.Fatalf("expected 100 after finished, got %v", p.percent)
	}
}

func TestDownloadProgressNeverDecreases(t *testing.T) {
	t.Parallel()

	p := downloadProgress{}
	p = p.apply(domain.DownloadEvent{Kind: domain.DownloadStarted, ContentLength: 100})
	p = p.apply(domain.DownloadEvent{Kind: domain.DownloadProgress, ChunkLength: 50})
	p = p.apply(domain.DownloadEvent{Kind: domain.DownloadStarted, ContentLength: 1000})
	p = p.apply(domain.DownloadEvent{Kind: domain.DownloadProgress, ChunkLength: 10})
	if p.percent != 50 {
		t.Fatalf("expected progress to hold at 50, got %v", p.percent)
	}
}

func TestUpdateControllerCheckResultDroppedOnceDownloadStarts(t *testing.T) {
	t.Parallel()

	checkGate := make(chan struct{})
	downloadGate := make(chan struct{})
	service := &fakeUpdateService{
		release:      &domain.UpdateDescriptor{Version: "v2.0.0"},
		stream:       []domain.DownloadEvent{{Kind: domain.DownloadFinished}},
		checkGate:    checkGate,
		downloadGate: downloadGate,
	}
	updater := NewUpdateController(service, &fakeEventSink{}, zerolog.Nop())

	checked := make(chan struct{})
	go func() {
		defer close(checked)
		updater.CheckForUpdates(context.Background())
	}()
	eventually(t, func() bool { return service.checkCount() == 1 })

	installed := make(chan error, 1)
	go func() { installed <- updater.DownloadAndInstall(context.Background()) }()
	eventually(t, func() bool { return service.downloadCount() == 1 })

	close(checkGate)
	<-checked
	if got := updater.State().Status; got != domain.UpdateStatusDownloading {
		t.Fatalf("late check result replaced download status: %s", got)
	}

	close(downloadGate)
	if err := <-installed; err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if got := updater.State(); got.Status != domain.UpdateStatusReady || got.Progress != 100 {
		t.Fatalf("unexpected final state: %+v", got)
	}
}

func TestUpdateControllerRejectsConcurrentDownload(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	service := &fakeUpdateService{
		release:      &domain.UpdateDescriptor{Version: "v2.0.0"},
		downloadGate: gate,
	}
	updater := NewUpdateController(service, &fakeEventSink{}, zerolog.Nop())

	first := make(chan error, 1)
	go func() { first <- updater.DownloadAndInstall(context.Background()) }()
	eventually(t, func() bool { return service.downloadCount() == 1 })

	if err := updater.DownloadAndInstall(context.Background()); !errors.Is(err, ErrDownloadInProgress) {
		t.Fatalf("expected ErrDownloadInProgress, got %v", err)
	}
	if updater.CheckForUpdates(context.Background()) {
		t.Fatalf("check during download must be ignored")
	}

	close(gate)
	if err := <-first; err != nil {
		t.Fatalf("first install failed: %v", err)
	}
	if service.downloadCount() != 1 {
		t.Fatalf("expected a single download, got %d", service.downloadCount())
	}
}

type fakeUpdateService struct {
	mu          sync.Mutex
	release     *domain.UpdateDescriptor
	checkErr    error
	checks      int
	stream      []domain.DownloadEvent
	downloadErr error
	downloads   int
	relaunches  int

	// checkGate holds the next Check call; downloadGate holds every download.
	checkGate    chan struct{}
	downloadGate chan struct{}
}

func (f *fakeUpdateService) Check(_ context.Context) (*domain.UpdateDescriptor, error) {
	f.mu.Lock()
	f.checks++
	gate := f.checkGate
	f.checkGate = nil
	err := f.checkErr
	var release *domain.UpdateDescriptor
	if f.release != nil {
		copied := *f.release
		release = &copied
	}
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return release, nil
}

func (f *fakeUpdateService) DownloadAndInstall(_ context.Context, _ domain.UpdateDescriptor, events chan<- domain.DownloadEvent) error {
	f.mu.Lock()
	f.downloads++
	stream := f.stream
	err := f.downloadErr
	gate := f.downloadGate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	for _, event := range stream {
		events <- event
	}
	return err
}

func (f *fakeUpdateService) Relaunch() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relaunches++
	return nil
}

func (f *fakeUpdateService) setCheckErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkErr = err
}

func (f *fakeUpdateService) checkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks
}

func (f *fakeUpdateService) downloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads
}
