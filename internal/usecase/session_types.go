package usecase

import (
	"context"
	"time"
)

type deviceOp string

const (
	deviceOpStart deviceOp = "start"
	deviceOpStop  deviceOp = "stop"
)

// deviceJob is one queued call into the recorder. Jobs run in the order the
// notifications that produced them were handled.
type deviceJob struct {
	ctx     context.Context
	op      deviceOp
	session uint64

	// duration is measured when the stop decision is taken, not when the
	// device call runs.
	duration time.Duration
	// teardown marks the stop issued by Close for a still-open session.
	teardown bool
}
