package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"

	"bsrlivetiming/pkg/config"
	"bsrlivetiming/pkg/endpoint"
	"bsrlivetiming/pkg/hub"
	"bsrlivetiming/pkg/model"
	"bsrlivetiming/pkg/notification"
	"bsrlivetiming/pkg/pubsub"
	"bsrlivetiming/pkg/racestate"
	"bsrlivetiming/pkg/settings"
	"bsrlivetiming/pkg/telemetry"
	"bsrlivetiming/pkg/webserver"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfgPath := os.Getenv("BSR_CONFIG")
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := config.Validate(&cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis %s: %v", cfg.Redis.Address, err)
		}
	}

	store := racestate.NewStore()
	h := hub.NewHub(store, cfg.BroadcastInterval())
	defer h.Close()

	web := webserver.NewManager(cfg.HTTP.Address)
	api := &webserver.API{Snapshots: store, Auth: webserver.BearerToken(cfg.HTTP.AdminToken)}

	var fanout *hub.Fanout
	if rdb != nil {
		fanout = hub.NewFanout(rdb, cfg.Redis.Channel, h)
		go func() {
			if err := fanout.Run(ctx); err != nil {
				log.Printf("Error fanning out live updates: %s\n", err.Error())
			}
		}()
	}

	if cfg.Redis.FanoutOnly {
		// viewers only; another process ingests and publishes
		api.Snapshots = fanout
	} else {
		ingestor, cleanup := startIngest(ctx, cfg, store, api)
		defer cleanup()
		if rdb != nil {
			h.SetPublisher(hub.NewRedisPublisher(rdb, cfg.Redis.Channel))
		}
		api.Status = ingestor
		go h.Run(ctx)
	}

	api.Register(web.Router())
	web.SetLive(webserver.NewConnectionManager(h, nil))
	if err := web.Serve(ctx); err != nil {
		log.Printf("Error serving http: %s\n", err.Error())
	}
}

// startIngest binds the UDP ingestor on the persisted or default endpoint
// and wires the settings, notification and admin collaborators into api.
func startIngest(ctx context.Context, cfg config.Config, store *racestate.Store, api *webserver.API) (*telemetry.Ingestor, func()) {
	settingsMgr, err := settings.NewManager(cfg.Storage.SqlitePath)
	if err != nil {
		log.Fatalf("settings: %v", err)
	}

	sessions := pubsub.NewPubSub[model.SessionStarted]()
	statuses := pubsub.NewPubSub[model.ConnectionStatus]()
	ingestor := telemetry.NewIngestor(store, telemetry.NewACSPDecoder(cfg.RealtimePosInterval()), telemetry.Config{
		ListenHost:        cfg.Telemetry.ListenHost,
		ConnectionTimeout: cfg.ConnectionTimeout(),
		Sessions:          sessions,
		Statuses:          statuses,
	})
	sw := endpoint.NewSwitch(ingestor, store, settingsMgr)

	initial, ok, err := settingsMgr.LoadEndpoint()
	if err != nil {
		log.Printf("Error loading endpoint config: %s\n", err.Error())
	}
	if !ok {
		initial = cfg.DefaultEndpoint()
	}
	if _, err := sw.Configure(ctx, initial); err != nil {
		log.Printf("Error binding initial endpoint, waiting for configuration: %s\n", err.Error())
	}

	go logStatuses(ctx, statuses.Subscribe(pubsub.TopicConnectionStatus))

	if cfg.Telegram.Token != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			log.Panic(err)
		}
		bot.Debug = false
		for _, chatID := range cfg.Telegram.ChatIDs {
			if err := settingsMgr.SetNotifications(chatID, chatID, cfg.NotifiedSessions()); err != nil {
				log.Printf("Error seeding notifications for %s: %s\n", chatID, err.Error())
			}
		}
		notifier := notification.NewManager(ctx, notification.NewTelegramSender(bot), settingsMgr)
		go notifier.Start(sessions.Subscribe(pubsub.TopicSessionStarted))
		log.Printf("telegram notifications enabled as @%s\n", bot.Self.UserName)
	}

	api.Switch = sw
	api.Clearer = ingestor
	api.Notifications = settingsMgr

	return ingestor, func() {
		if err := ingestor.Unbind(); err != nil {
			log.Printf("Error closing udp listener: %s\n", err.Error())
		}
		sessions.Close()
		statuses.Close()
		settingsMgr.Close()
	}
}

func logStatuses(ctx context.Context, statuses <-chan model.ConnectionStatus) {
	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-statuses:
			if !ok {
				return
			}
			log.Printf("simulator %s\n", status)
		}
	}
}
