package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/perry-systems/perryd/internal/logging"
	"github.com/perry-systems/perryd/internal/model"
)

// fakeAdapter satisfies Adapter without a container runtime, recording
// every call so tests can assert on adapter turnover.
type fakeAdapter struct {
	mu          sync.Mutex
	model       string
	nativeID    string
	msgs        chan model.Message
	started     bool
	interrupted bool
	disposed    bool
	sent        []string
}

func newFakeAdapter(modelName string) *fakeAdapter {
	return &fakeAdapter{model: modelName, msgs: make(chan model.Message, 64)}
}

func (f *fakeAdapter) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeAdapter) SendMessage(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeAdapter) SetModel(m string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.model = m
}

func (f *fakeAdapter) Model() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.model
}

func (f *fakeAdapter) Interrupt(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupted = true
	return nil
}

func (f *fakeAdapter) Dispose() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed = true
	return nil
}

func (f *fakeAdapter) Messages() <-chan model.Message { return f.msgs }

func (f *fakeAdapter) NativeSessionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nativeID
}

func (f *fakeAdapter) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestSession(t *testing.T, modelName string) *LiveSession {
	t.Helper()
	return newLiveSession("s1", "ws-a", "workspace-ws-a", "workspace", "", model.AgentClaude, modelName, nil, 0, logging.Default())
}

func (s *LiveSession) ringLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ring)
}

func TestReplay_DeliversOnlyMessagesAfterResumeID(t *testing.T) {
	s := newTestSession(t, "sonnet")
	fa := newFakeAdapter("sonnet")
	s.adapter = fa

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.routeMessages(ctx, fa)

	for i := 0; i < 5; i++ {
		fa.msgs <- model.Message{Type: model.MessageAssistant, Content: "frag"}
	}
	require.Eventually(t, func() bool { return s.ringLen() == 5 }, time.Second, 5*time.Millisecond)

	// A client that saw ids 1..3 reconnects asking for everything after 3.
	_, _, replay, _, _, _ := s.Attach(3)
	require.Len(t, replay, 2)
	require.Equal(t, int64(4), replay[0].ID)
	require.Equal(t, int64(5), replay[1].ID)
}

func TestSetModel_UpdatesSessionAndAdapter(t *testing.T) {
	s := newTestSession(t, "sonnet")
	fa := newFakeAdapter("sonnet")
	s.adapter = fa

	s.SetModel("opus")

	require.Equal(t, "opus", s.Snapshot().Model)
	require.Equal(t, "opus", fa.Model())

	// A rejoining client sees the new model too.
	_, _, _, effModel, _, _ := s.Attach(0)
	require.Equal(t, "opus", effModel)
}

func TestInterrupt_NextSendUsesFreshAdapter(t *testing.T) {
	s := newTestSession(t, "sonnet")
	fa1 := newFakeAdapter("sonnet")
	fa2 := newFakeAdapter("sonnet")
	s.adapter = fa1
	s.newAdapter = func(resumeNativeID string) (Adapter, error) { return fa2, nil }

	require.NoError(t, s.Interrupt(context.Background()))
	require.True(t, fa1.interrupted)
	require.Equal(t, StatusIdle, s.Snapshot().Status)

	require.NoError(t, s.SendMessage(context.Background(), "next turn"))

	// The cancelled turn's adapter is never reused.
	require.True(t, fa1.disposed)
	require.Empty(t, fa1.sentMessages())
	require.True(t, fa2.started)
	require.Equal(t, []string{"next turn"}, fa2.sentMessages())
}

func TestDispose_NotifiesAttachedClientsWithGoingAway(t *testing.T) {
	s := newTestSession(t, "sonnet")
	fa := newFakeAdapter("sonnet")
	s.adapter = fa

	_, sink, _, _, _, _ := s.Attach(0)
	s.Dispose()

	select {
	case <-sink.done:
	case <-time.After(time.Second):
		t.Fatal("sink was not closed on dispose")
	}
	code, _ := sink.CloseCode()
	require.Equal(t, 1001, code)
	require.True(t, fa.disposed)
}

func TestSlowClient_OverflowDisconnectsOnlyThatClient(t *testing.T) {
	s := newTestSession(t, "sonnet")
	fa := newFakeAdapter("sonnet")
	s.adapter = fa

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.routeMessages(ctx, fa)

	_, slow, _, _, _, _ := s.Attach(0)

	// Fill well past the per-client queue without draining it.
	for i := 0; i < clientQueueCap+8; i++ {
		fa.msgs <- model.Message{Type: model.MessageAssistant, Content: "x"}
	}

	select {
	case <-slow.done:
	case <-time.After(2 * time.Second):
		t.Fatal("slow client was not disconnected")
	}
	code, _ := slow.CloseCode()
	require.Equal(t, 1009, code)

	// The session itself keeps running and buffering.
	require.Eventually(t, func() bool { return s.ringLen() == ringBufferCap }, time.Second, 5*time.Millisecond)
}
