package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"tradewire/internal/config"
	"tradewire/internal/events"
	"tradewire/internal/models"
	"tradewire/internal/notify"
	"tradewire/internal/outbox"
	"tradewire/internal/presence"
	"tradewire/internal/session"
	"tradewire/internal/snapshot"
	"tradewire/internal/storage"
	"tradewire/internal/token"
	"tradewire/internal/transport"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	conversationID := flag.String("conversation", "", "Conversation to open")
	rawToken := flag.String("token", "", "Credential (overrides the stored one)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store, err := storage.NewBboltStorage(cfg.DBFile, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	credentials := token.NewStore(store)
	res := credentials.Latest()
	if *rawToken != "" {
		res = credentials.Save(cfg.UserID, []byte(*rawToken))
	}
	credential, ok := res.Token()
	if !ok {
		// Null credential is not fatal; the server decides what an
		// unauthenticated client may do.
		logger.Warn("no usable credential, connecting unauthenticated", "reason", res.Reason())
	}

	// Composition root: one explicit client instance, threaded through.
	registry := events.NewRegistry()
	client := transport.NewClient(
		transport.Config{
			MaxConnectionAttempts: cfg.MaxAttempts,
			AckTimeout:            cfg.AckTimeout,
			HealthTimeout:         cfg.HealthTimeout,
		},
		registry,
		logger,
		&transport.WebsocketDialer{URL: cfg.ServerURL},
		&transport.PollingDialer{URL: cfg.ServerURL},
	)

	synchronizer := outbox.NewSynchronizer(store, client, registry, logger)

	tracker := presence.NewTracker()
	tracker.Attach(registry)

	var pusher notify.Pusher
	if cfg.VAPIDPublic != "" && cfg.VAPIDPrivate != "" {
		if subJSON, err := os.ReadFile(getEnv("PUSH_SUBSCRIPTION_FILE", "subscription.json")); err == nil {
			sender, err := notify.NewWebPushSender(notify.WebPushConfig{
				Subscriber:      cfg.PushSubscriber,
				VAPIDPublicKey:  cfg.VAPIDPublic,
				VAPIDPrivateKey: cfg.VAPIDPrivate,
			}, subJSON)
			if err != nil {
				logger.Warn("push subscription unusable", "error", err)
			} else {
				pusher = sender
			}
		}
	}
	notifications := notify.NewAggregator(client, pusher, nil, logger)
	notifications.Attach(registry)

	snapshots := snapshot.NewCache(ctx, store, cfg.SnapshotTTL, logger)
	// Any message changes conversation previews, so the cached list goes
	// stale the moment one arrives.
	registry.On(events.KindMessage, "snapshot", func(events.Event) {
		snapshots.Invalidate("conversations")
	})

	supervisor := transport.NewSupervisor(client, logger)
	supervisor.OnConnected = func(ctx context.Context) {
		if cfg.UserID != "" {
			if err := client.JoinUserRoom(ctx, cfg.UserID); err != nil {
				logger.Warn("join_user_room failed", "error", err)
			}
		}
		if err := synchronizer.SyncPending(ctx); err != nil {
			logger.Warn("offline queue replay failed", "error", err)
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := supervisor.Run(gCtx, credential)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if *conversationID != "" {
		controller := session.NewController(*conversationID, cfg.UserID, client, synchronizer, registry, logger)
		if err := controller.Attach(gCtx); err != nil {
			logger.Warn("attach failed, will join on connect", "error", err)
		}
		defer controller.Close(context.Background())

		registry.On(events.KindMessage, "cli", func(ev events.Event) {
			var msg models.Message
			if ev.Decode(&msg) == nil && msg.ConversationID == *conversationID {
				fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Format("15:04"), msg.SenderID, msg.Content)
			}
		})

		g.Go(func() error {
			return readInput(gCtx, controller)
		})
	}

	return g.Wait()
}

// readInput sends each stdin line as a message; offline sends report the
// queued state instead of failing.
func readInput(ctx context.Context, controller *session.Controller) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if tempID, ok := strings.CutPrefix(line, "/retry "); ok {
			if _, err := controller.Retry(ctx, strings.TrimSpace(tempID)); err != nil {
				fmt.Printf("retry failed: %v\n", err)
			}
			continue
		}

		msg, err := controller.Send(ctx, line, models.MessageTypeText, nil)
		switch {
		case err != nil:
			fmt.Printf("send failed (%v), retry with /retry %s\n", err, msg.TempID)
		case msg.Status == models.StatusQueued:
			fmt.Println("offline, message queued for replay")
		}
	}
	return scanner.Err()
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
