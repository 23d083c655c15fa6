package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"

	"github.com/shulelink/backend/core"
	"github.com/shulelink/backend/core/notification"
	"github.com/shulelink/backend/core/user"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	conf     *core.Config
	db       *sql.DB
	usrRepo  user.Repository
	noteRepo notification.Repository
	metrics  core.MetricsProvider
	sender   notification.Sender
	logger   core.Logger
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run database migrations (goose commands)")
	fmt.Println("  adduser -name NAME -email EMAIL -role ROLE [-class CLASS] - create a user")
	fmt.Println("  attendance-check - scan all active students against the attendance thresholds")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ExitOnError)
	addUserName := addUserCmd.String("name", "", "The user's display name.")
	addUserEmail := addUserCmd.String("email", "", "The user's email address.")
	addUserRole := addUserCmd.String("role", "", "One of: student, teacher, office.")
	addUserClass := addUserCmd.String("class", "", "The student's class name.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserName == "" || *addUserEmail == "" || !user.Role(*addUserRole).Valid() {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserName, *addUserEmail, user.Role(*addUserRole), *addUserClass)
	case "attendance-check":
		return cli.attendanceCheck()
	default:
		cli.printUsage()
		return errHelp
	}
}
