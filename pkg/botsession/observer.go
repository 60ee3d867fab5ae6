// Copyright 2024-2026 Aiku AI

package botsession

import (
	"fmt"
	"regexp"
)

// Observer classifies bot reply text.
type Observer interface {
	// IsAcceptanceSignal reports that the consumer accepted a file.
	IsAcceptanceSignal(text string) bool
	// IsTimeoutSignal reports that the consumer failed to download a file.
	IsTimeoutSignal(text string) bool
	// IsCompletionSignal reports that the producer finished a job.
	IsCompletionSignal(text string) bool
	// IsSelectionInProgress reports that the consumer is already processing.
	IsSelectionInProgress(text string) bool
}

// Patterns lists regular expressions per signal. A signal matches when any
// of its expressions matches.
type Patterns struct {
	Acceptance          []string `yaml:"acceptance"`
	Timeout             []string `yaml:"timeout"`
	Completion          []string `yaml:"completion"`
	SelectionInProgress []string `yaml:"selection_in_progress"`
}

const downloadFailed = `❌ Не удалось скачать файл с серверов Telegram`

func DefaultPatterns() Patterns {
	return Patterns{
		Acceptance: []string{`✅ Подбор`, `⏳ Идет подбор`, `Подбор запущен`},
		Timeout: []string{
			downloadFailed + `(?s:.*)таймаут`,
			`таймаут(?s:.*)` + downloadFailed,
		},
		Completion:          []string{`✅ Бот успешно завершил свою работу`},
		SelectionInProgress: []string{`⏳ Идет подбор`, `⏳ У вас уже идёт подбор`, `начинаю обработку`},
	}
}

// PatternObserver is an Observer driven by compiled Patterns.
type PatternObserver struct {
	acceptance []*regexp.Regexp
	timeout    []*regexp.Regexp
	completion []*regexp.Regexp
	selection  []*regexp.Regexp
}

var _ Observer = (*PatternObserver)(nil)

// NewPatternObserver compiles p. Empty lists fall back to the defaults.
func NewPatternObserver(p Patterns) (*PatternObserver, error) {
	defaults := DefaultPatterns()
	var (
		po  PatternObserver
		err error
	)
	if po.acceptance, err = compileAll("acceptance", p.Acceptance, defaults.Acceptance); err != nil {
		return nil, err
	}
	if po.timeout, err = compileAll("timeout", p.Timeout, defaults.Timeout); err != nil {
		return nil, err
	}
	if po.completion, err = compileAll("completion", p.Completion, defaults.Completion); err != nil {
		return nil, err
	}
	if po.selection, err = compileAll("selection_in_progress", p.SelectionInProgress, defaults.SelectionInProgress); err != nil {
		return nil, err
	}
	return &po, nil
}

func compileAll(name string, exprs, fallback []string) ([]*regexp.Regexp, error) {
	if len(exprs) == 0 {
		exprs = fallback
	}
	compiled := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", name, expr, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(res []*regexp.Regexp, text string) bool {
	if text == "" {
		return false
	}
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func (po *PatternObserver) IsAcceptanceSignal(text string) bool {
	return matchAny(po.acceptance, text)
}

func (po *PatternObserver) IsTimeoutSignal(text string) bool {
	return matchAny(po.timeout, text)
}

func (po *PatternObserver) IsCompletionSignal(text string) bool {
	return matchAny(po.completion, text)
}

func (po *PatternObserver) IsSelectionInProgress(text string) bool {
	return matchAny(po.selection, text)
}

// AnyFromBot reports whether any message not sent by the relay itself has
// text satisfying match.
func AnyFromBot(msgs []*Message, match func(string) bool) bool {
	for _, msg := range msgs {
		if !msg.FromSelf && match(msg.Text) {
			return true
		}
	}
	return false
}
