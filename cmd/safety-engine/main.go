package main

import (
	"context"
	"os"
	"time"

	"wallet-safety/internal/chain"
	"wallet-safety/internal/model"
	"wallet-safety/internal/repository"
	"wallet-safety/internal/server"
	"wallet-safety/internal/service"
	"wallet-safety/internal/service/alert"
	"wallet-safety/internal/service/gas"
	"wallet-safety/internal/service/mq"
	"wallet-safety/internal/service/network"
	"wallet-safety/internal/service/recovery"
	"wallet-safety/internal/service/security"
	"wallet-safety/pkg/cache"
	"wallet-safety/pkg/config"
	"wallet-safety/pkg/database"
	"wallet-safety/pkg/kms"
	"wallet-safety/pkg/logger"
	"wallet-safety/pkg/utils/lock"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// 0. Config
	config.Init()
	cfg := config.Global

	// 1. Logger
	logger.Init(cfg.App.Env)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policies, err := model.NetworkPolicies(cfg.Networks)
	if err != nil {
		logger.Fatal("Invalid network policy", zap.Error(err))
	}

	// 2. Postgres
	db, err := database.ConnectPostgres(cfg.DB.DSN(), cfg.App.Env == "development")
	if err != nil {
		logger.Fatal("Postgres connection failed", zap.Error(err))
	}
	if cfg.App.Env == "development" {
		if err := repository.AutoMigrate(db); err != nil {
			logger.Fatal("AutoMigrate failed", zap.Error(err))
		}
		logger.Info("Schema migrated (development)")
	}
	wallets := repository.NewWalletRepository(db)
	txs := repository.NewTransactionRepository(db)
	guardians := repository.NewGuardianRepository(db)

	// 3. Redis
	rdb, err := database.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Redis connection failed", zap.Error(err))
	}

	// 4. Cache, locks, MQ
	store := newCache(cfg.Engine.CacheBackend, rdb)

	var (
		locker   lock.Locker
		cronLock lock.DistributedLock
	)
	if cfg.Engine.LockBackend == "redis" {
		redisLock := lock.NewRedisLock(rdb)
		locker = lock.NewSpinLocker(redisLock, cfg.Engine.LockTTL, 0)
		cronLock = redisLock
	} else {
		locker = lock.NewKeyedMutex()
	}

	var (
		producer mq.Producer
		consumer mq.Consumer
	)
	if cfg.Redis.MQType == "kafka" {
		logger.Info("Using Kafka as message queue")
		kp := mq.NewKafkaProducer(cfg.Kafka.Brokers)
		kc := mq.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
		defer kp.Close()
		defer kc.Close()
		producer, consumer = kp, kc
	} else {
		logger.Info("Using Redis Streams as message queue")
		host, _ := os.Hostname()
		producer = mq.NewRedisProducer(rdb, 10000)
		consumer = mq.NewRedisConsumer(rdb, "safety_engine", "safety-"+host)
	}

	// 5. Chain providers
	providers, err := chain.DialAll(ctx, policies, cfg.Engine.RPCTimeout)
	if err != nil {
		logger.Fatal("RPC dial failed", zap.Error(err))
	}

	// 6. Safety components
	// BLACKLISTED_ADDRESS alerts come back through mq.TopicAlert into the
	// validator, see ConsumeAlerts below.
	alerts := alert.FanOut{alert.NewMQSink(producer), alert.LogSink{}}

	// Cooldown, approvals and recovery state must not be served from a
	// per-process L1 when several engines share the redis lock.
	shared := store
	if cfg.Engine.LockBackend == "redis" {
		shared = cache.NewRedisCache(rdb)
	}

	netMonitor, err := network.NewMonitor(providers, policies, network.Deps{
		Cache:        store,
		Alerts:       alerts,
		Addresses:    wallets,
		Transactions: txs,
	}, network.Options{
		RefreshInterval: cfg.Engine.RefreshInterval,
		AlertBufferSize: cfg.Engine.AlertBufferSize,
	})
	if err != nil {
		logger.Fatal("Network monitor init failed", zap.Error(err))
	}

	estimator := gas.NewEstimator(providers, policies, store, netMonitor, gas.Options{
		CacheTTL:    cfg.Engine.GasCacheTTL,
		HistorySize: cfg.Engine.GasHistorySize,
	})

	validator := security.NewValidator(policies, security.Deps{
		Conditions: netMonitor,
		Gas:        estimator,
		Pending:    txs,
		Cache:      shared,
		Locker:     locker,
		Alerts:     alerts,
	}, security.Options{
		HistorySize: cfg.Engine.WalletHistorySize,
		ApprovalTTL: cfg.Engine.ApprovalTTL,
		ReadThrough: cfg.Engine.LockBackend == "redis",
	})

	if cfg.KMS.RootSecret == "" {
		logger.Fatal("kms.root_secret is required (KMS_ROOT_SECRET)")
	}
	keys := kms.NewLocalKMS([]byte(cfg.KMS.RootSecret))

	transfer := &recovery.TransferExecutor{
		Providers:     providers,
		Gate:          validator,
		Keys:          keys,
		Wallets:       wallets,
		Transactions:  txs,
		Confirmations: cfg.Recovery.Confirmations,
		Poll:          cfg.Recovery.ConfirmationPoll,
		Timeout:       cfg.Recovery.ConfirmationTimeout,
	}
	coordinator := recovery.NewCoordinator(recovery.Deps{
		Cache:     shared,
		Wallets:   wallets,
		Guardians: guardians,
		Locker:    locker,
		Notifier:  recovery.NewMQNotifier(producer),
		Alerts:    alerts,
		Executors: recovery.Executors(transfer, keys, wallets),
	}, recovery.Options{
		ApprovalThreshold: cfg.Recovery.ApprovalThreshold,
		RequestTTL:        cfg.Recovery.RequestTTL,
		FreezeDuration:    cfg.Recovery.FreezeDuration,
	})

	// 7. Background work
	if err := netMonitor.Start(ctx); err != nil {
		logger.Fatal("Network monitor start failed", zap.Error(err))
	}
	defer netMonitor.Stop()

	go func() {
		if err := validator.ConsumeThreatFeed(ctx, consumer); err != nil && ctx.Err() == nil {
			logger.Error("Threat feed consumer stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := validator.ConsumeAlerts(ctx, consumer); err != nil && ctx.Err() == nil {
			logger.Error("Alert consumer stopped", zap.Error(err))
		}
	}()

	cron := service.NewCronService(cronLock, coordinator, cfg.Engine.SweepSchedule, cfg.Engine.LockTTL)
	if err := cron.Start(); err != nil {
		logger.Fatal("Cron start failed", zap.Error(err))
	}
	defer cron.Stop()

	// 8. Ops HTTP (blocks until SIGINT/SIGTERM)
	r := server.NewHTTPRouter(server.Services{
		Networks: netMonitor,
		Gas:      estimator,
		Limits:   validator,
		Recovery: coordinator,
	})
	server.New(server.Config{HttpPort: cfg.App.HttpPort}, r).Run()

	// 9. Cleanup
	cancel()
	logger.Info("Closing connections...")
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	rdb.Close()
	logger.Info("Safety engine exited")
}

func newCache(backend string, rdb *redis.Client) cache.Cache {
	switch backend {
	case "memory":
		return cache.NewMemoryCache(5*time.Minute, 10*time.Minute)
	case "redis":
		return cache.NewRedisCache(rdb)
	default:
		l1 := cache.NewMemoryCache(1*time.Minute, 5*time.Minute)
		return cache.NewMultiLevelCache(l1, cache.NewRedisCache(rdb))
	}
}
