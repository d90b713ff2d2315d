package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/user/forwardmon/internal/discord"
	"github.com/user/forwardmon/internal/format"
	"github.com/user/forwardmon/internal/health"
	"github.com/user/forwardmon/internal/monitor"
	"github.com/user/forwardmon/internal/store"
	"github.com/user/forwardmon/internal/telegram"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the forward monitor daemon",
	RunE:  runServe,
}

func writePIDFile(dir string) (string, error) {
	pidPath := filepath.Join(dir, "forwardmon.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	pidPath, err := writePIDFile(filepath.Dir(cfg.DBPath))
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}

	source := discord.New()
	app := monitor.New(monitor.Options{
		Store:  st,
		Source: source,
		Sink:   telegram.NewSink(bot),
		Render: format.Render,
	})
	controller := telegram.NewController(bot, st, app)
	app.SetNotifier(controller)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Daily health digest at 09:00 UTC.
	scheduler := cron.New(cron.WithLocation(app.StartupTime().Location()))
	if _, err := scheduler.AddFunc("0 9 * * *", func() {
		controller.NotifyAdmins(ctx, health.Digest(app.Registry()))
	}); err != nil {
		return fmt.Errorf("schedule digest: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	slog.Info("forwardmon started",
		"db_path", cfg.DBPath,
		"log_level", cfg.LogLevel,
		"bot", bot.Self.UserName,
		"pid_file", pidPath,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Run(ctx, monitor.NamedLoop{Name: "admin-controller", Loop: controller.Run})
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		slog.Info("shutting down", "signal", sig)
		cancel()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
