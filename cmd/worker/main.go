package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"novel-guard/internal/api"
	"novel-guard/internal/config"
	"novel-guard/internal/guard"
	"novel-guard/internal/logger"
	"novel-guard/internal/messaging"
	"novel-guard/internal/repository"
	"novel-guard/internal/service"
	"novel-guard/internal/worker"
	"novel-guard/migrations"
	"novel-guard/pkg/migration"
)

const (
	// Имена для Dead Letter Exchange и Queue
	dlxName       = "guard_tasks_dlx"
	dlqName       = "guard_tasks_dlq"
	dlqRoutingKey = "dlq"
)

func main() {
	// .env нужен только в локальной разработке, в контейнере его нет
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("Ошибка инициализации логгера: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Запуск сервиса охраняемой генерации сцен (воркер + API)")

	// --- HTTP-сервер метрик Prometheus ---
	go startMetricsServer(cfg.MetricsPort, zapLogger)

	// --- Pushgateway (опционально) ---
	if cfg.PushgatewayURL != "" {
		if err := worker.InitMetricsPusher(cfg.PushgatewayURL); err != nil {
			zapLogger.Warn("Pushgateway недоступен, метрики будут только на /metrics", zap.Error(err))
		} else {
			worker.StartMetricsPusher(30 * time.Second)
			defer worker.CleanupMetrics()
		}
	}

	// --- Таблица правил охранника ---
	rules := guard.DefaultRuleTable()
	if cfg.RuleTablePath != "" {
		rules, err = guard.LoadRuleTable(cfg.RuleTablePath)
		if err != nil {
			zapLogger.Fatal("Не удалось загрузить таблицу правил", zap.String("path", cfg.RuleTablePath), zap.Error(err))
		}
		zapLogger.Info("Таблица правил загружена", zap.String("path", cfg.RuleTablePath), zap.Int("rules", len(rules.Rules)))
	}

	// --- AI клиент ---
	aiClient, err := service.NewAIClient(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Ошибка инициализации AI клиента", zap.Error(err))
	}

	// --- PostgreSQL + миграции ---
	dbPool, err := setupDatabase(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось подключиться к базе данных", zap.Error(err))
	}
	defer dbPool.Close()

	migrator := migration.NewMigrator(dbPool, migrations.FS, ".")
	if err := migrator.Up(); err != nil {
		zapLogger.Fatal("Не удалось применить миграции", zap.Error(err))
	}

	// --- Redis (кэш результатов) ---
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	var resultCache repository.ResultCache
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		zapLogger.Warn("Redis недоступен, кэш результатов отключен", zap.Error(err))
	} else {
		resultCache = repository.NewRedisResultCache(redisClient, cfg.ResultCacheTTL, zapLogger)
		zapLogger.Info("Подключение к Redis установлено", zap.String("addr", cfg.RedisAddr))
	}

	// --- RabbitMQ ---
	conn, err := connectRabbitMQ(cfg.RabbitMQURL, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось подключиться к RabbitMQ", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		zapLogger.Fatal("Не удалось открыть канал RabbitMQ", zap.Error(err))
	}
	defer ch.Close()

	if err := setupQueues(ch, cfg.TaskQueueName); err != nil {
		zapLogger.Fatal("Не удалось объявить очереди", zap.Error(err))
	}
	if err := ch.Qos(1, 0, false); err != nil {
		zapLogger.Fatal("Не удалось установить QoS", zap.Error(err))
	}

	// --- Зависимости воркера ---
	resultRepo := repository.NewPostgresResultRepository(dbPool, zapLogger)
	notifier, err := service.NewRabbitMQNotifier(ch, cfg.NotificationsQueueName, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось создать notifier", zap.Error(err))
	}

	taskHandler := worker.NewTaskHandler(cfg, aiClient, resultRepo, resultCache, notifier, rules, zapLogger)

	// --- HTTP API ---
	apiHandler := api.NewAPIHandler(cfg, aiClient, resultRepo, resultCache, rules, zapLogger)
	httpServer := startHTTPServer(cfg, apiHandler, zapLogger)

	// --- Консьюмер задач ---
	const consumerTag = "novel-guard-worker"
	msgs, err := ch.Consume(cfg.TaskQueueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		zapLogger.Fatal("Не удалось зарегистрировать консьюмера", zap.Error(err))
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range msgs {
			var payload messaging.GuardTaskPayload
			if err := json.Unmarshal(msg.Body, &payload); err != nil {
				zapLogger.Error("Ошибка десериализации задачи, сообщение уходит в DLQ", zap.Error(err))
				worker.MetricsIncrementTaskFailed("deserialization")
				_ = msg.Nack(false, false)
				continue
			}

			if err := taskHandler.Handle(rootCtx, payload); err != nil {
				// Requeue=false: повторная обработка той же задачи с большой
				// вероятностью упадет так же, сообщение уходит в DLQ.
				zapLogger.Error("Ошибка обработки задачи",
					zap.String("taskID", payload.TaskID), zap.Error(err))
				_ = msg.Nack(false, false)
			} else {
				_ = msg.Ack(false)
			}
		}
		zapLogger.Info("Канал сообщений закрыт, горутина обработки завершается")
	}()

	zapLogger.Info("Сервис запущен, ожидание задач и API запросов",
		zap.String("taskQueue", cfg.TaskQueueName),
		zap.String("httpPort", cfg.HTTPServerPort))

	<-stopChan
	zapLogger.Info("Получен сигнал завершения, останавливаемся")

	// Перестаем забирать новые задачи, дорабатываем текущую
	if err := ch.Cancel(consumerTag, false); err != nil {
		zapLogger.Warn("Не удалось отменить консьюмера", zap.Error(err))
	}
	rootCancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Ошибка при остановке HTTP сервера", zap.Error(err))
	}

	zapLogger.Info("Сервис охраняемой генерации остановлен")
}

// setupQueues объявляет DLX/DLQ и основную очередь задач.
func setupQueues(ch *amqp.Channel, taskQueueName string) error {
	if err := ch.ExchangeDeclare(dlxName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("не удалось объявить DLX '%s': %w", dlxName, err)
	}
	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("не удалось объявить DLQ '%s': %w", dlqName, err)
	}
	if err := ch.QueueBind(dlqName, dlqRoutingKey, dlxName, false, nil); err != nil {
		return fmt.Errorf("не удалось связать DLQ с DLX: %w", err)
	}

	args := amqp.Table{
		"x-queue-mode":              "lazy",
		"x-dead-letter-exchange":    dlxName,
		"x-dead-letter-routing-key": dlqRoutingKey,
	}
	if _, err := ch.QueueDeclare(taskQueueName, true, false, false, false, args); err != nil {
		return fmt.Errorf("не удалось объявить очередь '%s': %w", taskQueueName, err)
	}
	return nil
}

// startMetricsServer запускает HTTP-сервер для эндпоинтов /metrics и /health.
func startMetricsServer(port string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	})

	logger.Info("Запуск HTTP-сервера метрик", zap.String("port", port))
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		logger.Fatal("Ошибка запуска HTTP-сервера метрик", zap.Error(err))
	}
}

// setupDatabase инициализирует пул соединений с PostgreSQL с ретраями.
func setupDatabase(cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	const maxRetries = 50
	const retryDelay = 3 * time.Second

	poolConfig, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)
	poolConfig.MaxConnIdleTime = cfg.DBIdleTimeout

	var dbPool *pgxpool.Pool
	for i := 0; i < maxRetries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		dbPool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err == nil {
			err = dbPool.Ping(ctx)
			if err == nil {
				cancel()
				logger.Info("Подключение к PostgreSQL установлено", zap.Int("attempt", i+1))
				return dbPool, nil
			}
			dbPool.Close()
		}
		cancel()

		logger.Warn("Не удалось подключиться к PostgreSQL",
			zap.Int("attempt", i+1), zap.Int("maxRetries", maxRetries), zap.Error(err))
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	return nil, fmt.Errorf("не удалось подключиться к БД после %d попыток: %w", maxRetries, err)
}

// connectRabbitMQ подключается к RabbitMQ с несколькими попытками.
func connectRabbitMQ(url string, logger *zap.Logger) (*amqp.Connection, error) {
	const maxRetries = 5
	const retryDelay = 5 * time.Second

	var conn *amqp.Connection
	var err error
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			logger.Info("Подключение к RabbitMQ установлено", zap.Int("attempt", i+1))
			return conn, nil
		}
		logger.Warn("Не удалось подключиться к RabbitMQ",
			zap.Int("attempt", i+1), zap.Int("maxRetries", maxRetries), zap.Error(err))
		time.Sleep(retryDelay)
	}
	return nil, err
}

// startHTTPServer поднимает gin-роутер API в отдельной горутине.
func startHTTPServer(cfg *config.Config, apiHandler *api.APIHandler, logger *zap.Logger) *http.Server {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	apiHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // стриминг сессий может идти долго
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Запуск HTTP API сервера", zap.String("port", cfg.HTTPServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Ошибка запуска HTTP API сервера", zap.Error(err))
		}
	}()

	return server
}
