package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/taskapp/taskapp/internal/config"
	"github.com/taskapp/taskapp/internal/handlers"
	"github.com/taskapp/taskapp/internal/mailer"
	"github.com/taskapp/taskapp/internal/metrics"
	"github.com/taskapp/taskapp/internal/middleware"
	"github.com/taskapp/taskapp/internal/repository"
	"github.com/taskapp/taskapp/internal/repository/memory"
	"github.com/taskapp/taskapp/internal/repository/mongodb"
	"github.com/taskapp/taskapp/internal/service"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"
)

type stores struct {
	users  repository.UserStore
	admins repository.AdminStore
	otps   repository.OTPStore
}

type clients struct {
	mongo  *mongo.Client
	dynamo *dynamodb.Client
	redis  *redis.Client
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
	}

	ctx := context.Background()

	conns, err := connect(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect backends")
	}
	defer conns.close(logger)

	st, err := buildStores(ctx, cfg, conns, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize stores")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Initialize services
	jwtService, err := service.NewJWTService(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize JWT service")
	}

	otpService := service.NewOTPService(st.otps, cfg.OTP.Expiry, m, logger)
	authService := service.NewAuthService(
		st.users,
		st.admins,
		otpService,
		jwtService,
		service.NewPasswordHasher(bcrypt.DefaultCost),
		service.NewReferralCodes(st.users, cfg.OTP.FixedReferralCode),
		mailer.New(cfg.Mail, cfg.OTP.Expiry, logger),
		service.AuthConfig{
			EchoLoginCode:     cfg.OTP.EchoLoginCode,
			AdminAutoActivate: cfg.Admin.AutoActivate,
		},
		m,
		logger,
	)
	uploadService := service.NewUploadService(cfg.Upload.Path, cfg.Upload.PublicURL, logger)

	var windows middleware.WindowStore = middleware.NewMemoryWindowStore()
	if conns.redis != nil {
		windows = middleware.NewRedisWindowStore(conns.redis, "ratelimit")
	}
	limiter := middleware.NewRateLimiter(windows, cfg.RateLimit.Max, cfg.RateLimit.Window, cfg.Server.TrustProxy, m, logger)
	authMiddleware := middleware.NewAuthMiddleware(jwtService, st.users, st.admins, logger)

	router := handlers.NewRouter(
		handlers.RouterConfig{
			AllowedOrigins: cfg.Server.CORSAllowedOrigins,
			TrustProxy:     cfg.Server.TrustProxy,
			UploadDir:      cfg.Upload.Path,
		},
		handlers.NewAuthHandlers(authService, &cfg.JWT, logger),
		handlers.NewAccountHandlers(uploadService, cfg.Upload.MaxBytes, logger),
		authMiddleware,
		limiter,
		registry,
		m,
		logger,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":      cfg.Server.Port,
			"storage":   cfg.Storage.Backend,
			"otp_store": cfg.Storage.OTPBackend,
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// connect opens only the clients the selected backends need. Redis is also
// opened whenever an endpoint is set so it can back the rate limiter.
func connect(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*clients, error) {
	conns := &clients{}
	uses := func(backend string) bool {
		return cfg.Storage.Backend == backend || cfg.Storage.OTPBackend == backend
	}

	if uses(config.BackendMongo) {
		client, err := mongodb.Connect(ctx, cfg.MongoDB.URL, logger)
		if err != nil {
			return nil, err
		}
		conns.mongo = client
	}

	if uses(config.BackendDynamoDB) {
		client, err := initDynamoDB(ctx, cfg, logger)
		if err != nil {
			conns.close(logger)
			return nil, err
		}
		conns.dynamo = client
	}

	if cfg.Redis.Endpoint != "" {
		client, err := initRedis(ctx, cfg, logger)
		if err != nil {
			conns.close(logger)
			return nil, err
		}
		conns.redis = client
	}

	return conns, nil
}

func (c *clients) close(logger *logrus.Logger) {
	if c.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.mongo.Disconnect(ctx); err != nil {
			logger.WithError(err).Warn("Failed to disconnect MongoDB")
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close Redis client")
		}
	}
}

func buildStores(ctx context.Context, cfg *config.Config, conns *clients, logger *logrus.Logger) (*stores, error) {
	st := &stores{}

	var mongoDB *mongo.Database
	if conns.mongo != nil {
		mongoDB = conns.mongo.Database(cfg.MongoDB.Database)
		if err := mongodb.EnsureIndexes(ctx, mongoDB); err != nil {
			return nil, err
		}
	}

	if conns.dynamo != nil && cfg.DynamoDB.Endpoint != "" {
		if err := repository.EnsureTable(ctx, conns.dynamo, cfg.DynamoDB.TableName, logger); err != nil {
			return nil, err
		}
	}

	switch cfg.Storage.Backend {
	case config.BackendMongo:
		st.users = mongodb.NewUserRepository(mongoDB, logger)
		st.admins = mongodb.NewAdminRepository(mongoDB, logger)
	case config.BackendDynamoDB:
		st.users = repository.NewUserRepository(conns.dynamo, cfg.DynamoDB.TableName, logger)
		st.admins = repository.NewAdminRepository(conns.dynamo, cfg.DynamoDB.TableName, logger)
	case config.BackendMemory:
		logger.Warn("Using in-memory credential store; data is lost on restart")
		st.users = memory.NewUserRepository(nil)
		st.admins = memory.NewAdminRepository(nil)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}

	switch cfg.Storage.OTPBackend {
	case config.BackendMongo:
		st.otps = mongodb.NewOTPRepository(mongoDB, logger)
	case config.BackendDynamoDB:
		st.otps = repository.NewOTPRepository(conns.dynamo, cfg.DynamoDB.TableName, logger)
	case config.BackendRedis:
		st.otps = repository.NewRedisOTPRepository(conns.redis, "otp", logger)
	case config.BackendMemory:
		st.otps = memory.NewOTPRepository(nil)
	default:
		return nil, fmt.Errorf("unsupported OTP store %q", cfg.Storage.OTPBackend)
	}

	return st, nil
}

func initDynamoDB(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.DynamoDB.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.Info("DynamoDB client initialized")
	return client, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis client initialized")
	return client, nil
}
