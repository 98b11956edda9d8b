package control

import (
	"fmt"
	"io"
	"sync"

	"talkpaste/internal/domain"
)

// printSink renders controller events as one line each.
type printSink struct {
	mu    sync.Mutex
	out   io.Writer
	quiet bool
}

func newPrintSink(out io.Writer) *printSink {
	return &printSink{out: out}
}

func (p *printSink) RecordingStateChanged(status domain.RecordingStatus) {
	p.printf("recording  state=%s recording=%t session=%d\n", status.State, status.Recording, status.Session)
}

func (p *printSink) RecordingCompleted(result domain.RecordingResult) {
	p.printf("recorded   session=%d duration=%s file=%s\n", result.Session, result.Duration, result.Location)
}

func (p *printSink) ProgressChanged(status domain.ProgressStatus) {
	if status.Message == "" {
		p.printf("progress   %s\n", status.Stage)
		return
	}
	p.printf("progress   %s: %s\n", status.Stage, status.Message)
}

func (p *printSink) UpdateChanged(state domain.UpdateState) {
	if state.Status == domain.UpdateStatusDownloading {
		p.printf("update     downloading %.0f%%\n", state.Progress)
		return
	}
	p.printf("update     %s\n", state.Status)
}

func (p *printSink) SessionError(code domain.ErrorCode, detail string) {
	p.printf("error      %s: %s\n", code, detail)
}

func (p *printSink) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.quiet {
		return
	}
	fmt.Fprintf(p.out, format, args...)
}

func (p *printSink) setQuiet(quiet bool) {
	p.mu.Lock()
	p.quiet = quiet
	p.mu.Unlock()
}
