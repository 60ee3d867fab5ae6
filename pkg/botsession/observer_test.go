// Copyright 2024-2026 Aiku AI

package botsession

import "testing"

func TestPatternObserver_Defaults(t *testing.T) {
	t.Parallel()
	obs, err := NewPatternObserver(Patterns{})
	if err != nil {
		t.Fatalf("NewPatternObserver: %v", err)
	}

	tests := []struct {
		name  string
		text  string
		check func(string) bool
		want  bool
	}{
		{"acceptance started", "✅ Подбор запущен, ожидайте", obs.IsAcceptanceSignal, true},
		{"acceptance in progress", "⏳ Идет подбор объявлений", obs.IsAcceptanceSignal, true},
		{"acceptance plain", "Подбор запущен", obs.IsAcceptanceSignal, true},
		{"acceptance unrelated", "Привет", obs.IsAcceptanceSignal, false},
		{"timeout", "❌ Не удалось скачать файл с серверов Telegram: таймаут", obs.IsTimeoutSignal, true},
		{"timeout reversed", "таймаут\n❌ Не удалось скачать файл с серверов Telegram", obs.IsTimeoutSignal, true},
		{"download failure without timeout", "❌ Не удалось скачать файл с серверов Telegram", obs.IsTimeoutSignal, false},
		{"timeout word only", "таймаут", obs.IsTimeoutSignal, false},
		{"completion", "✅ Бот успешно завершил свою работу!", obs.IsCompletionSignal, true},
		{"completion other", "✅ Подбор", obs.IsCompletionSignal, false},
		{"selection in progress", "⏳ У вас уже идёт подбор", obs.IsSelectionInProgress, true},
		{"selection processing", "Файл получен, начинаю обработку", obs.IsSelectionInProgress, true},
		{"selection idle", "✅ Подбор завершён", obs.IsSelectionInProgress, false},
		{"empty", "", obs.IsAcceptanceSignal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.check(tt.text); got != tt.want {
				t.Errorf("got %v, want %v for %q", got, tt.want, tt.text)
			}
		})
	}
}

func TestPatternObserver_Custom(t *testing.T) {
	t.Parallel()
	obs, err := NewPatternObserver(Patterns{Completion: []string{`(?i)job done`}})
	if err != nil {
		t.Fatalf("NewPatternObserver: %v", err)
	}
	if !obs.IsCompletionSignal("JOB DONE") {
		t.Error("custom completion pattern not used")
	}
	if obs.IsCompletionSignal("✅ Бот успешно завершил свою работу") {
		t.Error("custom list should replace the default")
	}
	if !obs.IsAcceptanceSignal("Подбор запущен") {
		t.Error("unset lists should keep defaults")
	}
}

func TestPatternObserver_InvalidPattern(t *testing.T) {
	t.Parallel()
	if _, err := NewPatternObserver(Patterns{Timeout: []string{"("}}); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestAnyFromBot(t *testing.T) {
	t.Parallel()
	obs, _ := NewPatternObserver(Patterns{})
	msgs := []*Message{
		{Text: "⏳ Идет подбор", FromSelf: true},
		{Text: "hello"},
	}
	if AnyFromBot(msgs, obs.IsSelectionInProgress) {
		t.Error("own messages must be ignored")
	}
	msgs = append(msgs, &Message{Text: "⏳ Идет подбор"})
	if !AnyFromBot(msgs, obs.IsSelectionInProgress) {
		t.Error("expected bot message to match")
	}
}

func TestMessageHelpers(t *testing.T) {
	t.Parallel()
	var nilMsg *Message
	if nilMsg.FileName() != "" {
		t.Error("nil message should have no file name")
	}
	msg := &Message{Files: []File{{ID: "x"}, {ID: "y", Name: "B.xlsx"}}}
	if msg.FileName() != "B.xlsx" {
		t.Errorf("FileName: got %q", msg.FileName())
	}
	if got := MaxSeq([]*Message{{Seq: 3}, {Seq: 9}, {Seq: 1}}, 5); got != 9 {
		t.Errorf("MaxSeq: got %d", got)
	}
	if got := MaxSeq(nil, 5); got != 5 {
		t.Errorf("MaxSeq empty: got %d", got)
	}
}
