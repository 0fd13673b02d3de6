package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/parrotalk/client/agent"
	"github.com/hrygo/parrotalk/client/api"
	"github.com/hrygo/parrotalk/client/capture"
	"github.com/hrygo/parrotalk/internal/profile"
	"github.com/hrygo/parrotalk/plugin/ai/prompt"
	"github.com/hrygo/parrotalk/server"
)

var version = "dev"

var (
	rootCmd = &cobra.Command{
		Use:   "parrotalk",
		Short: `A spoken conversation tutor: turn server and command line client.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindFlags(cmd); err != nil {
				return err
			}
			setupLogger(viper.GetString("mode"), viper.GetBool("verbose"))
			return nil
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the turn server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	talkCmd = &cobra.Command{
		Use:   "talk",
		Short: "Send one recorded utterance and save the spoken reply",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTalk(cmd.Context())
		},
	}

	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Forget the server-side history of a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessionID := viper.GetString("session")
			if sessionID == "" {
				return fmt.Errorf("--session is required")
			}
			c := api.NewClient(viper.GetString("server"), api.WithToken(viper.GetString("token")))
			if err := c.ClearSession(cmd.Context(), sessionID); err != nil {
				return err
			}
			fmt.Printf("Session %s cleared\n", sessionID)
			return nil
		},
	}
)

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("addr", "")
	viper.SetDefault("port", 8081)
	viper.SetDefault("server", "http://localhost:8081")
	viper.SetDefault("out", ".")

	rootCmd.PersistentFlags().String("mode", "demo", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")

	serveCmd.Flags().String("addr", "", "address of server")
	serveCmd.Flags().Int("port", 8081, "port of server")
	serveCmd.Flags().String("driver", "", "conversation store driver: supabase, postgres, sqlite or none")
	serveCmd.Flags().String("dsn", "", "database source name for the postgres or sqlite driver")

	for _, cmd := range []*cobra.Command{talkCmd, clearCmd} {
		cmd.Flags().String("server", "http://localhost:8081", "base URL of the turn server")
		cmd.Flags().String("token", "", "bearer token identifying the user")
		cmd.Flags().String("session", "", "session id to continue")
	}
	talkCmd.Flags().String("file", "", "audio file holding the utterance")
	talkCmd.Flags().String("out", ".", "directory the spoken reply is written to")
	talkCmd.Flags().String("title", "", "conversation title stored with the turn")
	talkCmd.Flags().String("preset", "", "tutor preset: beginner, intermediate, advanced, business or casual")
	talkCmd.Flags().String("topics", "", "topics the tutor should steer towards")

	rootCmd.AddCommand(serveCmd, talkCmd, clearCmd)

	viper.SetEnvPrefix("PARROTALK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// bindFlags binds the running command's flags so env and flags resolve through viper.
func bindFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.Root().PersistentFlags())
}

func setupLogger(mode string, verbose bool) {
	level := slog.LevelInfo
	if verbose || mode == "dev" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if mode == "prod" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func runServe(ctx context.Context) error {
	instanceProfile := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Addr:    viper.GetString("addr"),
		Port:    viper.GetInt("port"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		Version: version,
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := server.NewServer(ctx, instanceProfile)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	printGreetings(instanceProfile, s)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.Shutdown(shutdownCtx)
	return nil
}

func printGreetings(p *profile.Profile, s *server.Server) {
	fmt.Printf("parrotalk %s started successfully!\n", p.Version)
	fmt.Printf("Mode: %s, store: %s, redis: %t\n", p.Mode, p.Driver, p.IsRedisEnabled())
	if addr := s.Addr(); addr != nil {
		fmt.Printf("Server running on %s\n", addr.String())
	}
}

func runTalk(ctx context.Context) error {
	path := viper.GetString("file")
	if path == "" {
		return fmt.Errorf("--file is required")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder := capture.NewController(capture.Config{Device: &capture.FileDevice{Path: path}})
	defer recorder.Cleanup()

	var startErr error
	recorder.Start(ctx, func(u capture.Update) {
		if u.Err != nil {
			startErr = u.Err
		}
	})
	blob, err := recorder.Stop(ctx)
	if startErr != nil {
		return fmt.Errorf("failed to read %s: %w", path, startErr)
	}
	if err != nil {
		return err
	}

	var options *prompt.Options
	if preset, topics := viper.GetString("preset"), viper.GetString("topics"); preset != "" || topics != "" {
		options = &prompt.Options{Preset: preset, Topics: topics}
	}

	player := &agent.FilePlayer{Dir: viper.GetString("out")}
	a := agent.New(agent.Config{
		Transport:     api.NewClient(viper.GetString("server"), api.WithToken(viper.GetString("token"))),
		SessionID:     viper.GetString("session"),
		Player:        player,
		PromptOptions: options,
		Title:         viper.GetString("title"),
	})

	resp, err := a.SubmitTurn(ctx, blob)
	if err != nil {
		return err
	}

	fmt.Printf("Session:   %s\n", resp.SessionID)
	fmt.Printf("You:       %s\n", resp.UserText)
	fmt.Printf("Tutor:     %s\n", resp.AssistantText)
	if file := player.LastFile(resp.AudioFormat); file != "" {
		fmt.Printf("Reply:     %s\n", file)
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
