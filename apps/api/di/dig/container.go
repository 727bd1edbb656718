package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/masomo-billing/apps/api/echo"
	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/fee"
	"github.com/trezcool/masomo-billing/core/roster"
	"github.com/trezcool/masomo-billing/core/subscription"
	emailsvc "github.com/trezcool/masomo-billing/services/email"
	logsvc "github.com/trezcool/masomo-billing/services/logger"
	metricsvc "github.com/trezcool/masomo-billing/services/metrics"
	"github.com/trezcool/masomo-billing/storage/cache/lrucache"
	"github.com/trezcool/masomo-billing/storage/cache/rediscache"
	"github.com/trezcool/masomo-billing/storage/database"
	sqlxrepos "github.com/trezcool/masomo-billing/storage/database/sqlx"
	"github.com/trezcool/masomo-billing/storage/roster/firestoreroster"
	"github.com/trezcool/masomo-billing/storage/roster/pgxroster"
	"github.com/trezcool/masomo-billing/storage/roster/staticroster"
)

// time allowed to reach each backing store at start up
const connectTimeout = time.Minute

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

func newLogger(conf *core.Config) core.Logger {
	return logsvc.New("API", log.LstdFlags, conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	return logsvc.New("DB", log.LstdFlags|log.Lmicroseconds|log.Lshortfile, conf)
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}
		if err = database.Ping(ctx, db, 30); err != nil {
			return nil, err
		}
		if err = database.Migrate(ctx, db.DB); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newRoster(conf *core.Config) (roster.Provider, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	switch conf.Roster.Source {
	case "", "static":
		return staticroster.FromIDs(conf.Roster.Students...), nil
	case "postgres":
		pool, err := pgxroster.Connect(ctx, conf.Roster.DSN)
		if err != nil {
			return nil, err
		}
		return pgxroster.New(pool, conf.Roster.Collection), nil
	case "firestore":
		client, err := firestoreroster.NewClient(ctx, conf.Roster.FirestoreProject, conf.Roster.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return firestoreroster.New(client, conf.Roster.Collection), nil
	default:
		return nil, errors.Errorf("unknown roster source %q", conf.Roster.Source)
	}
}

func newSubscriptionCache(conf *core.Config) (subscription.Cache, error) {
	switch conf.Cache.Driver {
	case "", "none":
		return subscription.NopCache{}, nil
	case "memory":
		return lrucache.New(conf.Cache.Size, conf.Cache.TTL), nil
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		rdb, err := rediscache.Dial(ctx, conf.Cache.RedisAddr, conf.Cache.RedisPassword, conf.Cache.RedisDB)
		if err != nil {
			return nil, err
		}
		return rediscache.New(rdb, conf.Cache.TTL), nil
	default:
		return nil, errors.Errorf("unknown cache driver %q", conf.Cache.Driver)
	}
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newMetrics(m *metricsvc.Prometheus) core.Metrics {
	return m
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := core.NewValidator(translator)
	fee.InitValidators(validate, translator)
	return validate
}

func newServer(
	conf *core.Config,
	logger core.Logger,
	translator ut.Translator,
	feeSvc *fee.Service,
	subSvc *subscription.Service,
) *echoapi.Server {
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	return echoapi.NewServer(conf.Server.Address, shutdown, &echoapi.Deps{
		Conf:            conf,
		Logger:          logger,
		Translator:      translator,
		FeeSvc:          feeSvc,
		SubscriptionSvc: subSvc,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newRoster))
	must(c.Provide(newSubscriptionCache))
	must(c.Provide(newEmailService))
	must(c.Provide(metricsvc.New))
	must(c.Provide(newMetrics))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(sqlxrepos.NewFeeRepository))
	must(c.Provide(sqlxrepos.NewSubscriptionRepository))
	must(c.Provide(fee.NewService))
	must(c.Provide(subscription.NewService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
