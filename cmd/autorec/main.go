package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"autorec/internal/config"
	"autorec/internal/coordinator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "autorec: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(cfg.ZapLevel())
	log, err := zcfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "autorec: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord, err := coordinator.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to start coordinator", zap.Error(err))
	}
	defer coord.Close()

	m := newModel(ctx, coord)
	p := tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		log.Fatal("tui exited with error", zap.Error(err))
	}
}
