package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/saravenpi/unimatch/internal/auth"
	"github.com/saravenpi/unimatch/internal/blob"
	"github.com/saravenpi/unimatch/internal/chat"
	"github.com/saravenpi/unimatch/internal/config"
	"github.com/saravenpi/unimatch/internal/logger"
	"github.com/saravenpi/unimatch/internal/metrics"
	"github.com/saravenpi/unimatch/internal/models"
	"github.com/saravenpi/unimatch/internal/store"
	"github.com/saravenpi/unimatch/internal/ui"
)

const version = "1.0.0"

// app holds the backends opened for one run.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	store   ui.Store
	sqlite  *store.SQLite
	blobs   chat.BlobStore
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("failed to close")
		}
	}
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(os.Getenv("UNIMATCH_CONFIG"))
	if err != nil {
		return nil, err
	}

	log, closeLog, err := logger.New(logger.Options{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, File: cfg.Log.File})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, closers: []func() error{closeLog}}

	switch cfg.Backend {
	case config.BackendFirestore:
		fs, err := store.NewFirestore(ctx, cfg.Firestore.ProjectID, cfg.Firestore.CredentialsFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = fs
		a.closers = append(a.closers, fs.Close)
	default:
		db, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = db
		a.sqlite = db
		a.closers = append(a.closers, db.Close)
	}

	switch {
	case cfg.S3.Bucket != "":
		s3, err := blob.NewS3(cfg.S3)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.blobs = s3
	case a.sqlite != nil:
		local, err := blob.NewSQLite(a.sqlite.DB())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.blobs = local
	default:
		a.Close()
		return nil, fmt.Errorf("s3.bucket is required for the %s backend", cfg.Backend)
	}

	log.Info().Str("backend", cfg.Backend).Msg("backends ready")
	return a, nil
}

func chatOptions(c config.Chat) chat.Options {
	return chat.Options{
		MaxImageBytes:     c.MaxImageMB << 20,
		MaxVoiceBytes:     c.MaxVoiceMB << 20,
		TypingIdle:        c.TypingIdle,
		OfflineTimeout:    orDefault(c.OfflineTimeout, 2*time.Second),
		UploadConcurrency: c.UploadConcurrency,
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "-v", "--version":
			fmt.Printf("Unimatch v%s\n", version)
			return
		case "help", "-h", "--help":
			printHelp()
			return
		case "init":
			if err := runInit(os.Args[2:]); err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "match":
			if err := runMatch(os.Args[2:]); err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "media":
			if err := runMedia(os.Args[2:]); err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			return
		default:
			fmt.Printf("Unknown command: %s\n", os.Args[1])
			printHelp()
			os.Exit(1)
		}
	}

	if err := run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, a.cfg.MetricsAddr); err != nil {
				a.log.Error().Err(err).Str("addr", a.cfg.MetricsAddr).Msg("metrics server stopped")
			}
		}()
	}

	actor := models.Actor{ID: a.cfg.Actor.ID, Verified: a.cfg.Actor.Verified}
	env := &ui.Env{
		Store:   a.store,
		Blobs:   a.blobs,
		Guard:   auth.NewGuard(auth.Static{Actor: &actor}, a.log),
		Names:   store.NewNameCache(a.store),
		Log:     a.log,
		Options: chatOptions(a.cfg.Chat),
	}

	p := tea.NewProgram(ui.NewMenuModel(env), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}

// runInit writes a starter config for the given user. Verification happens in the web app,
// so the flag is only set when asked for.
func runInit(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: unimatch init <userID> [name] [--verified]")
	}
	actor := config.Actor{ID: args[0]}
	for _, arg := range args[1:] {
		if arg == "--verified" {
			actor.Verified = true
			continue
		}
		actor.Name = arg
	}

	path, err := config.Init(os.Getenv("UNIMATCH_CONFIG"), actor)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

// runMatch creates a conversation between the configured actor and another user on the local
// database, standing in for the web app's matchmaking.
func runMatch(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: unimatch match <userID> [name]")
	}
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.sqlite == nil {
		return fmt.Errorf("match is only available with the sqlite backend")
	}
	if a.cfg.Actor.ID == "" {
		return fmt.Errorf("actor.id is not configured")
	}

	other := args[0]
	if len(args) > 1 {
		if err := a.sqlite.UpsertProfile(ctx, other, args[1]); err != nil {
			return err
		}
	}
	if a.cfg.Actor.Name != "" {
		if err := a.sqlite.UpsertProfile(ctx, a.cfg.Actor.ID, a.cfg.Actor.Name); err != nil {
			return err
		}
	}

	conv, err := a.sqlite.CreateConversation(ctx, a.cfg.Actor.ID, other)
	if err != nil {
		return err
	}
	a.log.Info().Str("conversation", conv.ID).Msg("match created")
	fmt.Printf("Matched with %s (conversation %s)\n", other, conv.ID)
	return nil
}

// runMedia copies a locally stored attachment to a file or stdout.
func runMedia(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: unimatch media <sqlite-blob://url> [output]")
	}
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	local, ok := a.blobs.(*blob.SQLite)
	if !ok {
		return fmt.Errorf("media export is only available for locally stored attachments")
	}
	data, contentType, err := local.Open(ctx, args[0])
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if len(args) > 1 {
		f, err := os.Create(args[1])
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
		fmt.Fprintf(os.Stderr, "Writing %s (%d bytes)\n", contentType, len(data))
	}
	if _, err := out.Write(data); err != nil {
		return fmt.Errorf("failed to write media: %w", err)
	}
	return nil
}

func printHelp() {
	help := `Unimatch - campus dating chat in your terminal

Usage:
  unimatch                         Open your matches
  unimatch init <userID> [name]    Write a starter config (add --verified once verified)
  unimatch match <userID> [name]   Create a local match (sqlite backend)
  unimatch media <url> [output]    Export a locally stored photo or voice note
  unimatch version                 Show version information
  unimatch help                    Show this help message

Navigation:
  ↑/↓ or j/k        Navigate lists and messages
  Enter             Select/Open item
  ESC               Close menu, cancel reply/selection, or go back
  q                 Quit from current view
  ctrl+c            Force quit

Conversation:
  n                 Write a message (enter sends, alt+enter adds a line)
  r                 Reply to the highlighted message
  s or space        Select messages for deletion
  d                 Delete the highlighted message or the selection
  m                 Open the message menu
  1-5               React ❤️ 😂 👍 😮 😢 (same reaction again removes it)
  a                 Send photos or a voice note
  u                 Unmatch
  b                 Block

Configuration:
  Settings live in ~/.unimatch/config.yml (override with UNIMATCH_CONFIG).
  UNIMATCH_* environment variables and a .env file override the file.
  Logs are written to ~/.unimatch/unimatch.log by default.
`
	fmt.Print(help)
}
