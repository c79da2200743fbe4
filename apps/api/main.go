package main

import (
	"context"
	"database/sql"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	echoapi "github.com/iteamsociety/iteam/apps/api/echo"
	"github.com/iteamsociety/iteam/core"
	"github.com/iteamsociety/iteam/core/event"
	"github.com/iteamsociety/iteam/core/member"
	"github.com/iteamsociety/iteam/core/realtime"
	"github.com/iteamsociety/iteam/core/session"
	"github.com/iteamsociety/iteam/core/user"
	emailsvc "github.com/iteamsociety/iteam/services/email"
	sendgridmail "github.com/iteamsociety/iteam/services/email/sendgrid"
	logsvc "github.com/iteamsociety/iteam/services/logger"
	"github.com/iteamsociety/iteam/storage/database"
	sqlxrepos "github.com/iteamsociety/iteam/storage/database/sqlx"
	"github.com/iteamsociety/iteam/storage/kv"
	"github.com/iteamsociety/iteam/storage/object"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger.Enable(!conf.Debug)

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			dbLogger.Fatal("Failed to close", err)
		}
	}()
	sdb := sqlx.NewDb(db, "postgres")

	// durable role fallback store
	fallbackPath := conf.Session.FallbackPath
	if fallbackPath == "" {
		fallbackPath = filepath.Join(conf.WorkDir, "roles.db")
	}
	fallback, err := kv.Open(fallbackPath)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening role fallback store: %v", err), err)
	}
	defer fallback.Close()

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = sendgridmail.NewService(conf, logger)
	}

	bus := realtime.NewBus()
	defer bus.Close()

	usrSvc := user.NewService(sqlxrepos.NewUserRepository(sdb), mailSvc, conf, logger)
	evtSvc := event.NewService(sqlxrepos.NewEventRepository(sdb), bus, logger)
	mbrSvc := member.NewService(sqlxrepos.NewMemberRepository(sdb), usrSvc, mailSvc, bus, conf, logger)

	// set up the session machinery
	resolver := session.NewResolver(usrSvc, fallback, conf.Session.RoleCacheTTL, logger)
	provider := session.NewLocalProvider(conf.Server.JWTExpirationDelta)
	defer provider.Close()

	mgr := session.NewManager(session.ManagerDeps{
		Provider:         provider,
		Resolver:         resolver,
		Logger:           logger,
		BootstrapTimeout: conf.Session.BootstrapTimeout,
		WatchdogTimeout:  conf.Session.WatchdogTimeout,
	})
	mgr.Start()
	defer mgr.Close()

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	member.InitValidators(validate, translator)

	core.ParseEmailTemplates(conf, logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.
	// /metrics - Prometheus scrape endpoint.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	http.Handle("/metrics", promhttp.Handler())

	go func() {
		if err = http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			UserSvc:    usrSvc,
			EventSvc:   evtSvc,
			MemberSvc:  mbrSvc,
			SessionMgr: mgr,
			Resolver:   resolver,
			Provider:   provider,
			Bus:        bus,
			Evidence:   object.NewDiskStore(conf),
			Validate:   validate,
			Translator: translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpDB(conf *core.Config) (*sql.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
