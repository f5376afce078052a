package realtime

import (
	"context"
	"encoding/binary"
	"math"
	"strconv"
	"sync"
	"time"
)

// Command kinds recorded by MockAdapter.
const (
	CmdConfigure      = "configure"
	CmdAudioAppend    = "audio_append"
	CmdAudioCommit    = "audio_commit"
	CmdResponseCreate = "response_create"
	CmdToolOutput     = "tool_output"
	CmdTruncate       = "truncate"
	CmdDisconnect     = "disconnect"
)

// Command is one outbound call observed by MockAdapter.
type Command struct {
	Kind     string
	Config   SessionConfig
	Bytes    int
	CallID   string
	Output   string
	Success  bool
	ItemID   string
	AudioEnd time.Duration
	At       time.Time
}

// MockAdapter is an in-process provider. With AutoAnnounce it behaves like a
// well-behaved backend: created on connect, configured on configure, and a
// short synthesized reply for every response request.
type MockAdapter struct {
	AutoAnnounce bool
	SpeakOnReply bool
	ConnectHook  func(ctx context.Context) error
	ConfigureErr error
	Provider     string

	mu         sync.Mutex
	events     chan Event
	commands   []Command
	sampleRate int
	replies    int
}

func NewMockAdapter() *MockAdapter {
	return &MockAdapter{AutoAnnounce: true, SpeakOnReply: true, Provider: "mock", sampleRate: defaultSampleRate}
}

func (m *MockAdapter) Connect(ctx context.Context, _ string) (<-chan Event, error) {
	if m.ConnectHook != nil {
		if err := m.ConnectHook(ctx); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events != nil {
		return nil, ErrAlreadyConnected
	}
	m.events = make(chan Event, eventBuffer)
	if m.AutoAnnounce {
		m.events <- Event{Type: EventSessionCreated, At: time.Now()}
	}
	return m.events, nil
}

func (m *MockAdapter) ConfigureSession(_ context.Context, cfg SessionConfig) error {
	if err := m.record(Command{Kind: CmdConfigure, Config: cfg}); err != nil {
		return err
	}
	if m.ConfigureErr != nil {
		return m.ConfigureErr
	}
	m.mu.Lock()
	if cfg.SampleRate > 0 {
		m.sampleRate = cfg.SampleRate
	}
	m.mu.Unlock()
	if m.AutoAnnounce {
		m.Inject(Event{Type: EventSessionConfigured})
	}
	return nil
}

func (m *MockAdapter) SendAudioChunk(_ context.Context, pcm []byte) error {
	return m.record(Command{Kind: CmdAudioAppend, Bytes: len(pcm)})
}

func (m *MockAdapter) CommitAudioBuffer(context.Context) error {
	return m.record(Command{Kind: CmdAudioCommit})
}

func (m *MockAdapter) CreateResponse(context.Context) error {
	if err := m.record(Command{Kind: CmdResponseCreate}); err != nil {
		return err
	}
	if m.SpeakOnReply {
		m.mu.Lock()
		m.replies++
		itemID := "mock_item_" + strconv.Itoa(m.replies)
		rate := m.sampleRate
		m.mu.Unlock()
		m.Inject(Event{Type: EventAssistantSpeaking, ItemID: itemID})
		for i := 0; i < 3; i++ {
			m.Inject(Event{Type: EventAudioDelta, ItemID: itemID, Audio: tone(rate, 100*time.Millisecond, 440)})
		}
	}
	return nil
}

func (m *MockAdapter) SendToolOutput(_ context.Context, callID, output string, success bool) error {
	return m.record(Command{Kind: CmdToolOutput, CallID: callID, Output: output, Success: success})
}

func (m *MockAdapter) Truncate(_ context.Context, itemID string, audioEnd time.Duration) error {
	return m.record(Command{Kind: CmdTruncate, ItemID: itemID, AudioEnd: audioEnd})
}

func (m *MockAdapter) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, Command{Kind: CmdDisconnect, At: time.Now()})
	if m.events != nil {
		close(m.events)
		m.events = nil
	}
	return nil
}

func (m *MockAdapter) SampleRate() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sampleRate
}

func (m *MockAdapter) Capabilities() Capabilities {
	return Capabilities{Provider: m.Provider, ServerVAD: true, Truncate: true}
}

// Inject delivers ev as if it came from the provider. It reports false when
// the channel is closed or full.
func (m *MockAdapter) Inject(ev Event) bool {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events == nil {
		return false
	}
	select {
	case m.events <- ev:
		return true
	default:
		return false
	}
}

// Drop simulates the provider closing the connection with an error.
func (m *MockAdapter) Drop(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events == nil {
		return
	}
	select {
	case m.events <- Event{Type: EventError, Code: "transport_closed", Message: message, Fatal: true, At: time.Now()}:
	default:
	}
	close(m.events)
	m.events = nil
}

func (m *MockAdapter) Commands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Command, len(m.commands))
	copy(out, m.commands)
	return out
}

func (m *MockAdapter) CommandsOf(kind string) []Command {
	var out []Command
	for _, c := range m.Commands() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockAdapter) record(c Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events == nil {
		return ErrNotConnected
	}
	c.At = time.Now()
	m.commands = append(m.commands, c)
	return nil
}

func tone(sampleRate int, d time.Duration, freq float64) []byte {
	n := int(float64(sampleRate) * d.Seconds())
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(0.2 * math.MaxInt16 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
