// Package reload watches the rewrite rule-source file and republishes a
// freshly compiled rewrite.CompiledRules whenever it changes, so the
// server never restarts to pick up an edited ruleset.
package reload

import (
	"context"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"

	"httpd/internal/rewrite"
)

// RuleSource is the subset of *config.AppConfig the watcher needs: read
// the path being watched, re-parse it, and publish the result.
type RuleSource interface {
	RuleSourcePathValue() string
	EngineOnDefaultValue() bool
	SetRules(*rewrite.CompiledRules)
}

// Watch blocks, watching path for writes until ctx is cancelled. Every
// write triggers a re-parse and an atomic publish via src.SetRules. If the
// file cannot be read, the previously published rules are kept; parse
// errors are logged and the rules that did parse are published.
func Watch(ctx context.Context, l *slog.Logger, src RuleSource) {
	logger := l.WithGroup("reloader").With("rule_source_path", src.RuleSourcePathValue())
	logger.Info("starting rule source watcher")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create file watcher", "err", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(src.RuleSourcePathValue()); err != nil {
		logger.Error("failed to watch rule source", "err", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down rule source watcher")
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reload(logger, src)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error("error watching rule source but continuing to try", "err", err)
		}
	}
}

func reload(logger *slog.Logger, src RuleSource) {
	buf, err := os.ReadFile(src.RuleSourcePathValue())
	if err != nil {
		logger.Error("failed to read rule source, keeping existing rules", "err", err)
		return
	}

	rules, errs := rewrite.Parse(string(buf), rewrite.ParseOptions{EngineOnDefault: src.EngineOnDefaultValue()})
	for _, e := range errs {
		logger.Warn("rule source parse error", "err", e.Error())
	}
	src.SetRules(rules)
	logger.Info("reloaded rule source", "rule_count", len(rules.Rules))
}
