package engine_test

import (
	"context"
	"sync"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
)

type statusErr struct {
	status int
	msg    string
}

func (e statusErr) Error() string         { return e.msg }
func (e statusErr) StatusCode() int       { return e.status }
func (e statusErr) ServerMessage() string { return e.msg }

type call struct {
	SubcaseID string
	Kind      domain.ActionKind
	Payload   engine.Payload
}

// fakeTransport records calls and fails the subcases listed in fail.
type fakeTransport struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error

	// gate, when set, blocks every call until it is closed.
	gate    chan struct{}
	started chan string
}

func (f *fakeTransport) Transition(ctx context.Context, id string, kind domain.ActionKind, payload engine.Payload) error {
	f.mu.Lock()
	f.calls = append(f.calls, call{SubcaseID: id, Kind: kind, Payload: payload})
	err := f.fail[id]
	f.mu.Unlock()
	if f.started != nil {
		f.started <- id
	}
	if f.gate != nil {
		<-f.gate
	}
	return err
}

func (f *fakeTransport) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}
