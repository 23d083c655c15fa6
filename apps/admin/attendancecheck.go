package main

import (
	"context"
	"fmt"

	"github.com/shulelink/backend/core/notification"
)

// attendanceCheck runs one synchronous scan and prints the result.
func (cli *commandLine) attendanceCheck() error {
	monitor, err := notification.NewMonitor(
		cli.conf.Monitor, cli.noteRepo, cli.usrRepo, cli.metrics, cli.sender, cli.logger)
	if err != nil {
		return err
	}

	res := monitor.RunManualCheck(context.Background())
	fmt.Printf("checked: %d\nsent: %d\nfailed: %d\ntook: %s\n",
		res.TotalStudentsChecked, res.NotificationsSent, res.NotificationsFailed, res.ExecutionTime)
	for _, e := range res.Errors {
		if e.StudentID != "" {
			fmt.Printf("error (student %s): %s\n", e.StudentID, e.Error)
		} else {
			fmt.Printf("error: %s\n", e.Error)
		}
	}
	return nil
}
