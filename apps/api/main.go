package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/jmoiron/sqlx"

	echoapi "github.com/shulelink/backend/apps/api/echo"
	"github.com/shulelink/backend/core"
	"github.com/shulelink/backend/core/messaging"
	"github.com/shulelink/backend/core/notification"
	"github.com/shulelink/backend/core/user"
	emailsvc "github.com/shulelink/backend/services/email"
	logsvc "github.com/shulelink/backend/services/logger"
	metricssvc "github.com/shulelink/backend/services/metrics"
	scannersvc "github.com/shulelink/backend/services/scanner"
	storagesvc "github.com/shulelink/backend/services/storage"
	"github.com/shulelink/backend/storage/database"
	sqlxrepos "github.com/shulelink/backend/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	std := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	var logger core.Logger
	if conf.Debug {
		logger = logsvc.NewStdLogger(std)
	} else {
		logger = logsvc.NewRollbarLogger(std, conf)
	}

	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			logger.Error("closing database", err)
		}
	}()
	dbx := sqlx.NewDb(db, conf.Database.Engine)

	usrRepo := sqlxrepos.NewUserRepository(dbx)
	msgRepo := sqlxrepos.NewMessagingRepository(dbx)
	bcRepo := sqlxrepos.NewBroadcastRepository(dbx)
	schedRepo := sqlxrepos.NewScheduleRepository(dbx)
	noteRepo := sqlxrepos.NewNotificationRepository(dbx)

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	var fileStore core.FileStorage
	if conf.Storage.Backend == "oss" {
		if fileStore, err = storagesvc.NewOSSStorage(conf); err != nil {
			logger.Fatal(fmt.Sprintf("setting up object storage: %v", err), err)
		}
	} else {
		fileStore = storagesvc.NewFilesystemStorage(conf)
	}

	usrSvc := user.NewService(usrRepo)
	msgSvc := messaging.NewService(
		msgRepo, usrRepo, fileStore, scannersvc.NewPassThroughScanner(), logger, conf.Storage.UploadTimeout)
	bcSvc := messaging.NewBroadcastService(bcRepo, usrRepo, logger)
	schedSvc, err := messaging.NewScheduleService(schedRepo, usrRepo, msgSvc, logger, conf.ScheduledDispatchCron)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up schedule service: %v", err), err)
	}
	noteSvc := notification.NewService(noteRepo)

	monitor, err := notification.NewMonitor(
		conf.Monitor, noteRepo, usrRepo, metricssvc.NewHTTPProvider(conf),
		emailsvc.NewNotificationSender(conf, mailSvc), logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up attendance monitor: %v", err), err)
	}

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate, translator := core.NewValidator()

	// =========================================================================
	// Start Background Jobs

	jobsCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	go schedSvc.Run(jobsCtx)
	monitor.Start(jobsCtx)
	defer monitor.Stop()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:            conf,
			Logger:          logger,
			UserSvc:         usrSvc,
			MessagingSvc:    msgSvc,
			BroadcastSvc:    bcSvc,
			ScheduleSvc:     schedSvc,
			NotificationSvc: noteSvc,
			Monitor:         monitor,
			Validate:        validate,
			Translator:      translator,
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
