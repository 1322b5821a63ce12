package wire

import (
	"Parley/internal/api"
	"Parley/internal/api/config"
	"Parley/internal/api/handler"
	"Parley/internal/job"
	"Parley/internal/pkg/cron"
	"Parley/internal/pkg/kafka"
	"Parley/internal/pkg/mongo"
	"Parley/internal/pkg/presence"
	"Parley/internal/pkg/security"
	"Parley/internal/repository"
	"Parley/internal/service"

	"github.com/gin-gonic/gin"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router   *gin.Engine
	DB       *gorm.DB
	CronMgr  *cron.Manager
	Registry *presence.Registry
	Presence *service.PresenceListener
	Producer *kafka.MessageEventProducer
}

func BuildApplication(db *gorm.DB, mongoDB *mongodrv.Database, cfg *config.Config) (*ApplicationContainer, error) {
	security.SetSecret(cfg.JWT.Secret)

	// 存储
	userRepo := repository.NewUserRepo(db)
	conversationRepo := repository.NewConversationRepo(db)
	messageRepo := mongo.NewMessageRepo(mongoDB)

	// 出站：Redis 推送 + Kafka 事件
	publisher := service.NewRedisPublisher(cfg.IM.PublishTimeout)
	producer, err := kafka.NewMessageEventProducer(cfg.Kafka)
	if err != nil {
		return nil, err
	}

	userService := service.NewUserService(userRepo)

	// 在线状态与积压补偿
	registry := presence.NewRegistry()
	reconciler := service.NewBacklogReconciler(messageRepo, publisher, producer, cfg.IM.StoreTimeout)
	presenceListener := service.NewPresenceListener(publisher, reconciler)
	registry.SetListener(presenceListener)

	imService := service.NewIMService(messageRepo, conversationRepo, userService, registry, publisher, producer, cfg.IM)

	handlers := &api.HandlersGroup{
		IMHandler: handler.NewIMHandler(imService),
		WSHandler: handler.NewWsHandler(imService, registry, handler.RedisSubscriber),
	}
	router := api.SetupRouter(handlers)

	sweepSpec := cfg.IM.SweepSpec
	if sweepSpec == "" {
		sweepSpec = config.DefaultIMConfig().SweepSpec
	}
	cronMgr := cron.NewCronManager(sweepSpec, job.NewDeliverySweepJob(registry, reconciler))

	return &ApplicationContainer{
		Router:   router,
		DB:       db,
		CronMgr:  cronMgr,
		Registry: registry,
		Presence: presenceListener,
		Producer: producer,
	}, nil
}
