package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/listlane/listlane/internal/listlane"
	"github.com/listlane/listlane/internal/realtime"
)

func main() {
	logger := log.New(os.Stderr, "listlaned ", log.LstdFlags)

	stateBackend, outbox, err := buildStorageBackendsFromEnv()
	if err != nil {
		logger.Fatalf("failed to initialize storage backends: %v", err)
	}

	store, err := listlane.NewStoreWithOptions(listlane.StoreOptions{
		Backend:   stateBackend,
		StateFile: strings.TrimSpace(os.Getenv("LISTLANE_STATE_FILE")),
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("failed to open store: %v", err)
	}

	tokens, closeTokens, err := buildTokenSourceFromEnv(logger)
	if err != nil {
		logger.Fatalf("failed to initialize token source: %v", err)
	}

	apiURL := strings.TrimSpace(os.Getenv("LISTLANE_API_URL"))
	stateClient := realtime.NewStateClient(apiURL, tokens, &http.Client{Timeout: durationEnv("LISTLANE_HTTP_TIMEOUT", 15*time.Second)})

	eventsURL := strings.TrimSpace(os.Getenv("LISTLANE_EVENTS_URL"))
	if eventsURL == "" {
		eventsURL = "ws://127.0.0.1:8080/events"
	}

	var manager *realtime.Manager
	manager, err = realtime.NewManager(realtime.Options{
		Endpoint:          eventsURL,
		Tokens:            tokens,
		Outbox:            outbox,
		Logger:            logger,
		ReconnectInterval: durationEnv("LISTLANE_RECONNECT_INTERVAL", time.Second),
		Instance:          strings.TrimSpace(os.Getenv("LISTLANE_INSTANCE")),
		OnConnect: func(ctx context.Context) {
			refreshOnConnect(ctx, manager, stateClient, store, logger)
		},
		OnDisconnect: func(err error) {
			if err != nil {
				logger.Printf("channel down: %v", err)
			}
		},
	})
	if err != nil {
		logger.Fatalf("failed to build channel manager: %v", err)
	}
	realtime.BindStore(manager, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Connect(ctx); err != nil {
		logger.Fatalf("failed to start channel manager: %v", err)
	}
	logger.Printf("connecting to %s as instance %s", eventsURL, manager.Instance())

	<-ctx.Done()
	logger.Printf("shutting down")
	_ = manager.Close()
	if closeTokens != nil {
		_ = closeTokens()
	}
	_ = outbox.Close()
	if err := store.Close(); err != nil {
		logger.Printf("store close failed: %v", err)
	}
}

// refreshOnConnect replays the outbox and then pulls a fresh full snapshot.
// A failed replay keeps its envelopes buffered for the next session; the
// snapshot refresh still runs so the local cache does not stay stale.
func refreshOnConnect(ctx context.Context, manager *realtime.Manager, stateClient *realtime.StateClient, store *listlane.Store, logger listlane.Logger) {
	if err := manager.ResendOutbox(ctx); err != nil {
		logger.Printf("outbox replay failed: %v", err)
	}
	snapshot, err := stateClient.FetchAll(ctx)
	if err != nil {
		logger.Printf("full state fetch failed: %v", err)
		return
	}
	if err := store.ReplaceAll(snapshot); err != nil {
		logger.Printf("full state apply failed: %v", err)
		return
	}
	logger.Printf("channel open, state refreshed: %d projects, %d groups, %d tasks",
		len(snapshot.Projects), len(snapshot.Groups), len(snapshot.Tasks))
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func buildTokenSourceFromEnv(logger listlane.Logger) (realtime.TokenSource, func() error, error) {
	if tokenFile := strings.TrimSpace(os.Getenv("LISTLANE_TOKEN_FILE")); tokenFile != "" {
		source, err := realtime.NewFileTokenSource(tokenFile, logger)
		if err != nil {
			return nil, nil, err
		}
		return source, source.Close, nil
	}
	return realtime.StaticTokenSource(os.Getenv("LISTLANE_TOKEN")), nil, nil
}

func buildStorageBackendsFromEnv() (listlane.StateBackend, listlane.Outbox, error) {
	profileStateDSN, profileOutboxDSN, err := storageProfileDefaultsFromEnv()
	if err != nil {
		return nil, nil, err
	}

	stateDSN := strings.TrimSpace(os.Getenv("LISTLANE_STATE_BACKEND_DSN"))
	if stateDSN == "" {
		stateDSN = profileStateDSN
	}
	stateBackend, err := listlane.BuildStateBackendFromDSN(stateDSN)
	if err != nil {
		return nil, nil, err
	}

	outboxDSN := strings.TrimSpace(os.Getenv("LISTLANE_OUTBOX_DSN"))
	if outboxDSN == "" {
		outboxDSN = profileOutboxDSN
	}
	outbox, err := listlane.BuildOutboxFromDSN(outboxDSN)
	if err != nil {
		return nil, nil, err
	}
	return stateBackend, outbox, nil
}

func storageProfileDefaultsFromEnv() (stateBackendDSN, outboxDSN string, err error) {
	profile := strings.ToLower(strings.TrimSpace(os.Getenv("LISTLANE_BACKEND_PROFILE")))
	dataDir := strings.TrimSpace(os.Getenv("LISTLANE_DATA_DIR"))
	if dataDir == "" {
		dataDir = ".listlane"
	}
	switch profile {
	case "", "custom":
		return "", "", nil
	case "memory", "inmemory":
		return "memory://", "memory://", nil
	case "durable-local", "local-durable":
		return "sqlite://" + filepath.Join(dataDir, "state.db"),
			"sqlite://" + filepath.Join(dataDir, "outbox.db"),
			nil
	case "production", "prod":
		productionDSN := strings.TrimSpace(os.Getenv("LISTLANE_PRODUCTION_DSN"))
		if productionDSN == "" {
			productionDSN = strings.TrimSpace(os.Getenv("LISTLANE_POSTGRES_DSN"))
		}
		if productionDSN == "" {
			return "", "", fmt.Errorf("LISTLANE_PRODUCTION_DSN or LISTLANE_POSTGRES_DSN is required when LISTLANE_BACKEND_PROFILE=%s", profile)
		}
		return productionDSN, productionDSN, nil
	default:
		return "", "", fmt.Errorf("unsupported LISTLANE_BACKEND_PROFILE: %s", profile)
	}
}
