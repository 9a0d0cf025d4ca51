package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"pedigree/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type snapshotRecorder struct {
	mu        sync.Mutex
	snapshots []events.Snapshot
	err       error
}

func (r *snapshotRecorder) PublishSnapshot(_ context.Context, s events.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
	return r.err
}

// kindTo 比對通知的種類與收件者
type kindTo struct {
	kind   Kind
	userID string
}

func (m kindTo) Matches(x any) bool {
	msg, ok := x.(Message)
	return ok && msg.Kind == m.kind && msg.UserID == m.userID
}

func (m kindTo) String() string {
	return fmt.Sprintf("%s to %s", m.kind, m.userID)
}
