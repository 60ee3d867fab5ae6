// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/filerelay/pkg/botsession"
	"github.com/aiku/filerelay/pkg/store"
)

const (
	srcBot     = "source_bot"
	dstBot     = "target_bot"
	operatorID = int64(7787819135)

	textPresetMenu = "Выберите пресет"
	textPreset     = "Пресет last_parser"
	textCompleted  = "✅ Бот успешно завершил свою работу"
	textAccepted   = "✅ Подбор запущен"
	textTimeout    = "❌ Не удалось скачать файл с серверов Telegram (таймаут)"
	textSelecting  = "⏳ Идет подбор"
)

// Target bot reactions to a forwarded file.
const (
	answerAccept  = "accept"
	answerTimeout = "timeout"
	answerSilent  = "silent"
	answerFail    = "fail"
)

type forwardCall struct {
	Bot      string
	FileName string
}

// fakeWorld simulates the source and target bots. Pressing the launch button
// makes the source bot post the next name from files. Forwards to the target
// bot are answered according to replies.
type fakeWorld struct {
	mu       sync.Mutex
	seq      int64
	msgs     map[string][]*botsession.Message
	sent     []string
	pressed  []string
	forwards []forwardCall

	files   []string
	replies []string

	failSearch  bool
	// noPreset makes the source bot offer the launch button right away.
	noPreset    bool
	// rateLimited fails the next RecentMessages calls with flood control.
	rateLimited int
	// lateFile is posted by the source bot once it has been polled.
	lateFile    string
}

func newFakeWorld(files ...string) *fakeWorld {
	return &fakeWorld{
		msgs:  make(map[string][]*botsession.Message),
		files: files,
	}
}

func (w *fakeWorld) postLocked(bot, text string, fromSelf bool, file string, buttons ...botsession.Button) *botsession.Message {
	w.seq++
	msg := &botsession.Message{
		ID:       fmt.Sprintf("post-%d", w.seq),
		Seq:      w.seq,
		FromSelf: fromSelf,
		Text:     text,
		Buttons:  buttons,
	}
	if !fromSelf {
		msg.SenderID = bot + "-id"
	}
	if file != "" {
		msg.Files = []botsession.File{{ID: fmt.Sprintf("file-%d", w.seq), Name: file, Size: 1024}}
	}
	w.msgs[bot] = append(w.msgs[bot], msg)
	return msg
}

func (w *fakeWorld) post(bot, text string, file string, buttons ...botsession.Button) *botsession.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.postLocked(bot, text, false, file, buttons...)
}

func (w *fakeWorld) RecentMessages(ctx context.Context, bot string, limit int, after int64) ([]*botsession.Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rateLimited > 0 {
		w.rateLimited--
		return nil, &botsession.RateLimitedError{RetryAfter: time.Minute}
	}
	all := w.msgs[bot]
	var out []*botsession.Message
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if after > 0 && all[i].Seq <= after {
			break
		}
		out = append(out, all[i])
	}
	if bot == srcBot && w.lateFile != "" {
		w.postLocked(srcBot, "", false, w.lateFile)
		w.lateFile = ""
	}
	return out, nil
}

func (w *fakeWorld) SendText(ctx context.Context, bot, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failSearch {
		return errors.New("send failed")
	}
	w.sent = append(w.sent, text)
	w.postLocked(bot, text, true, "")
	if bot != srcBot {
		return nil
	}
	if w.noPreset {
		w.postLocked(bot, textPreset, false, "", botsession.Button{
			ID: "run", Label: "Запустить", Payload: "run_parser_preset|last_parser|",
		})
	} else {
		w.postLocked(bot, textPresetMenu, false, "", botsession.Button{
			ID: "show", Label: "last_parser", Payload: "show_prst|last_parser|last_parser",
		})
	}
	return nil
}

func (w *fakeWorld) PressButton(ctx context.Context, bot string, msg *botsession.Message, btn botsession.Button) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pressed = append(w.pressed, btn.Payload)
	switch btn.Payload {
	case "show_prst|last_parser|last_parser":
		w.postLocked(bot, textPreset, false, "", botsession.Button{
			ID: "run", Label: "Запустить", Payload: "run_parser_preset|last_parser|",
		})
	case "run_parser_preset|last_parser|":
		if len(w.files) > 0 {
			name := w.files[0]
			w.files = w.files[1:]
			w.postLocked(bot, "", false, name)
			w.postLocked(bot, textCompleted, false, "")
		}
	}
	return nil
}

func (w *fakeWorld) ForwardMessage(ctx context.Context, bot string, msg *botsession.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	reply := answerAccept
	if len(w.replies) > 0 {
		reply = w.replies[0]
		w.replies = w.replies[1:]
	}
	name := msg.FileName()
	w.forwards = append(w.forwards, forwardCall{Bot: bot, FileName: name})
	if reply == answerFail {
		return errors.New("upload failed")
	}
	w.postLocked(bot, "", true, name)
	switch reply {
	case answerAccept:
		w.postLocked(bot, textAccepted, false, "")
	case answerTimeout:
		w.postLocked(bot, textTimeout, false, "")
	}
	return nil
}

func (w *fakeWorld) forwardedNames() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, 0, len(w.forwards))
	for _, f := range w.forwards {
		names = append(names, f.FileName)
	}
	return names
}

func (w *fakeWorld) setReplies(replies ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.replies = replies
}

// fakeClock advances instantly on every sleep.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept += d
	return nil
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := ParseConfig([]byte(ExampleConfig))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	cfg.Bots.Source = srcBot
	cfg.Bots.Target = dstBot
	cfg.OperatorID = operatorID
	return cfg
}

type testEnv struct {
	engine *Engine
	world  *fakeWorld
	store  *store.FileStore
	clock  *fakeClock
}

func newTestEnv(t *testing.T, world *fakeWorld, mutate ...func(*Config)) *testEnv {
	t.Helper()
	cfg := testConfig(t)
	for _, fn := range mutate {
		fn(cfg)
	}
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	clock := newFakeClock()
	engine, err := NewEngine(cfg, world, fs, fs, zerolog.Nop(), WithClock(clock.Now, clock.Sleep))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &testEnv{engine: engine, world: world, store: fs, clock: clock}
}

func (env *testEnv) state(t *testing.T) store.State {
	t.Helper()
	st, err := env.store.ReadState(context.Background())
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	return st
}

func (env *testEnv) isForwarded(t *testing.T, name string) bool {
	t.Helper()
	ok, err := env.store.IsForwarded(context.Background(), name)
	if err != nil {
		t.Fatalf("IsForwarded: %v", err)
	}
	return ok
}

// sourceDoc posts a document from the source bot and returns a queue entry
// for it.
func (env *testEnv) sourceDoc(name string) Entry {
	return Entry{Message: env.world.post(srcBot, "", name), FileName: name}
}
