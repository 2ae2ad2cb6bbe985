package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/brashline/with-server/pkg/lib"
)

func printSummary(w io.Writer, spec lib.LaunchSpec, outcome lib.RunOutcome) {
	result := "Success"
	if outcome.FailureReason != nil {
		result = outcome.FailureReason.String()
	}
	payloadCode := "-"
	if outcome.PayloadRan {
		payloadCode = strconv.Itoa(outcome.PayloadExitCode)
	}
	stopped := "no"
	if outcome.ServerStopped {
		stopped = "yes"
	}
	serverPID := "-"
	if outcome.ServerPID > 0 {
		serverPID = strconv.Itoa(outcome.ServerPID)
	}
	ready := "-"
	if outcome.ReadyAfter > 0 {
		ready = outcome.ReadyAfter.Round(time.Millisecond).String()
	}

	rows := [][2]string{
		{"RUN", outcome.RunID},
		{"SERVER", spec.Server.String()},
		{"SERVER PID", serverPID},
		{"ADDRESS", spec.Address()},
		{"READY AFTER", ready},
		{"COMMAND", spec.Payload.String()},
		{"COMMAND EXIT", payloadCode},
		{"SERVER STOPPED", stopped},
		{"RESULT", result},
		{"EXIT", strconv.Itoa(outcome.ExitCode())},
		{"ELAPSED", outcome.Elapsed.Round(time.Millisecond).String()},
	}

	// Determine column widths
	keyW, valW := 0, 0
	for _, r := range rows {
		keyW = max(keyW, len(r[0]))
		valW = max(valW, len(r[1]))
	}

	sep := fmt.Sprintf("+-%s-+-%s-+\n", strings.Repeat("-", keyW), strings.Repeat("-", valW))
	fmt.Fprint(w, sep)
	for _, r := range rows {
		fmt.Fprintf(w, "| %s | %s |\n", pad(r[0], keyW), pad(r[1], valW))
	}
	fmt.Fprint(w, sep)
}

func pad(s string, w int) string {
	if len(s) >= w {
		return s
	}
	return s + strings.Repeat(" ", w-len(s))
}
