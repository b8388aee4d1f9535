package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/callwatch/internal/anthropic"
	"github.com/MikeSquared-Agency/callwatch/internal/audio"
	"github.com/MikeSquared-Agency/callwatch/internal/bitrix"
	"github.com/MikeSquared-Agency/callwatch/internal/config"
	"github.com/MikeSquared-Agency/callwatch/internal/evaluator"
	"github.com/MikeSquared-Agency/callwatch/internal/hermes"
	"github.com/MikeSquared-Agency/callwatch/internal/processor"
	"github.com/MikeSquared-Agency/callwatch/internal/selector"
	"github.com/MikeSquared-Agency/callwatch/internal/store"
	"github.com/MikeSquared-Agency/callwatch/internal/telegram"
	"github.com/MikeSquared-Agency/callwatch/internal/weekly"
	"github.com/MikeSquared-Agency/callwatch/internal/whisper"
)

// app holds the wired pipeline and the optional sinks that need closing.
type app struct {
	proc   *processor.Processor
	weekly *weekly.Aggregator
	mirror *store.Mirror
	hermes *hermes.Client
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger := slog.Default()
	a := &app{}

	rules, err := evaluator.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}

	progress, err := store.OpenProgress(cfg.StateFile, cfg.ProcessedWindow)
	if err != nil {
		return nil, fmt.Errorf("open progress store: %w", err)
	}
	callLog := store.NewCallLog(cfg.CallLogFile)

	b24 := bitrix.NewClient(cfg.BitrixWebhookBase, cfg.HTTPTimeout, logger.With("component", "bitrix"))
	poster := telegram.NewPoster(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.HTTPTimeout, logger.With("component", "telegram"))
	llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.EvalModel, cfg.HTTPTimeout)
	slog.Info("anthropic client ready", "model", llm.Model())

	a.weekly = weekly.New(callLog, poster, weekly.Options{
		Schedule: weekly.Schedule{
			Weekday:  cfg.WeeklyWeekday,
			Hour:     cfg.WeeklyHour,
			Location: cfg.Location(),
		},
		StatePath:     cfg.WeeklyStateFile,
		RetentionDays: cfg.RetentionDays,
		TopN:          cfg.WeeklyTopN,
	}, logger.With("component", "weekly"))

	deps := processor.Deps{
		Selector: selector.New(b24, selector.Options{
			MinDurationSec: cfg.MinDurationSec,
			OnlyInbound:    cfg.OnlyInbound,
		}, logger.With("component", "selector")),
		Audio:       audio.NewAcquirer(cfg.HTTPTimeout, cfg.MinAudioBytes),
		Transcriber: whisper.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.WhisperModel, cfg.TranscribePrompt, cfg.HTTPTimeout),
		Evaluator:   evaluator.New(llm, rules, cfg.TranscriptCharCap, logger.With("component", "evaluator")),
		Directory:   b24,
		Notifier:    poster,
		Progress:    progress,
		Log:         callLog,
		Weekly:      a.weekly,
	}

	// Postgres mirror (optional)
	if cfg.DatabaseURL != "" {
		m, err := store.NewMirror(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Warn("postgres mirror disabled", "error", err)
		} else if err := m.EnsureSchema(ctx); err != nil {
			m.Close()
			slog.Warn("postgres mirror disabled", "error", err)
		} else {
			a.mirror = m
			deps.Mirror = m
			slog.Info("postgres mirror connected")
		}
	}

	// NATS/Hermes (optional)
	if cfg.NatsURL != "" {
		h, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger.With("component", "hermes"))
		if err != nil {
			slog.Warn("event publishing disabled", "error", err)
		} else {
			a.hermes = h
			deps.Publisher = h
			a.weekly.SetPublisher(h)
			slog.Info("NATS connected", "url", cfg.NatsURL)
		}
	}

	a.proc = processor.New(deps, processor.Options{
		Limit:         cfg.LimitLast,
		MaxAudioBytes: cfg.MaxAudioBytes,
		Language:      cfg.LanguageHint,
		Location:      cfg.Location(),
	}, logger.With("component", "processor"))

	return a, nil
}

func (a *app) Close() {
	if a.hermes != nil {
		a.hermes.Close()
	}
	if a.mirror != nil {
		a.mirror.Close()
	}
}
