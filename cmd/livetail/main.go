// Command livetail prints the live standings of a bsrlivetiming server.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"

	"bsrlivetiming/pkg/helper"
	"bsrlivetiming/pkg/liveclient"
	"bsrlivetiming/pkg/model"
)

const clearScreen = "\033[H\033[2J"

func main() {
	server := flag.String("server", "http://localhost:8080", "server base url")
	race := flag.String("race", "", "race id to subscribe to")
	poll := flag.Bool("poll", false, "poll instead of using the push channel")
	flag.Parse()

	wsURL, pollURL, err := liveclient.Endpoints(*server)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := liveclient.Options{
		Fetcher: liveclient.NewHTTPFetcher(pollURL),
		RaceID:  model.RaceID(*race),
	}
	if !*poll {
		opts.Dialer = liveclient.NewWebSocketDialer(wsURL)
	}
	reader := liveclient.NewReader(ctx, opts)
	reader.OnStatus(func(s liveclient.Status) {
		log.Printf("live timing %s\n", s)
	})
	reader.OnUpdate(func(snap model.RaceStateSnapshot) {
		fmt.Print(clearScreen + render(snap))
	})
	if err := reader.Connect(); err != nil {
		log.Printf("Error connecting: %s\n", err.Error())
	}

	<-ctx.Done()
	reader.Disconnect()
}

func render(snap model.RaceStateSnapshot) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s  %s  %s\n", snap.SessionStatus, snap.Session.TrackName, snap.SessionTime)
	if snap.Session.TotalLaps > 0 {
		fmt.Fprintf(&b, "Lap %d/%d\n", snap.SessionInfo.CurrentLap, snap.SessionInfo.TotalLaps)
	} else {
		fmt.Fprintf(&b, "Remaining %s\n", helper.SecondsToHoursAndMinutes(snap.Session.RemainingSeconds))
	}
	fmt.Fprintf(&b, "Air %.0f°C  Track %.0f°C  Wind %s\n",
		snap.TrackConditions.AirTemp, snap.TrackConditions.TrackTemp, snap.TrackConditions.WindDirection)

	t := table.NewWriter()
	t.SetOutputMirror(&b)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"P", "#", "PIL", "Driver", "Car", "Lap", "Time", "Gap", "Best", "Last", "Status"})
	for _, d := range snap.Drivers {
		t.AppendRow(table.Row{d.Position, d.CarNumber, helper.GetDriverCodeName(d.Name), d.Name, d.Car, d.CurrentLap, d.RaceTime, d.GapToLeader, d.BestLapTime, d.LastLapTime, d.Status})
	}
	if len(snap.Drivers) == 0 {
		t.AppendRow(table.Row{"", "", "", "no drivers"})
	}
	t.Render()
	return b.String()
}
