package main

import (
	"fmt"
	"log"
	"os"

	"github.com/jmoiron/sqlx"

	"github.com/shulelink/backend/core"
	emailsvc "github.com/shulelink/backend/services/email"
	logsvc "github.com/shulelink/backend/services/logger"
	metricssvc "github.com/shulelink/backend/services/metrics"
	"github.com/shulelink/backend/storage/database"
	sqlxrepos "github.com/shulelink/backend/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf := core.NewConfig()

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()
	errAndDie(db.Ping())
	dbx := sqlx.NewDb(db, conf.Database.Engine)

	// start CLI
	cli := commandLine{
		conf:     conf,
		db:       db,
		usrRepo:  sqlxrepos.NewUserRepository(dbx),
		noteRepo: sqlxrepos.NewNotificationRepository(dbx),
		metrics:  metricssvc.NewHTTPProvider(conf),
		sender:   emailsvc.NewNotificationSender(conf, emailsvc.NewConsoleService(conf)),
		logger:   logsvc.NewStdLogger(logger),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(fmt.Sprintf("%+v", err))
	}
}
