package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bsrlivetiming/pkg/model"
	"bsrlivetiming/pkg/racestate"
)

func TestRenderStandings(t *testing.T) {
	snap := model.RaceStateSnapshot{
		SessionStatus: "Race",
		SessionTime:   "12:30",
		Session:       model.RaceSession{TrackName: "Interlagos", TotalLaps: 20},
		SessionInfo:   model.SessionInfo{CurrentLap: 4, TotalLaps: 20},
		Drivers: []model.DriverEntry{
			{Position: 1, Name: "Ana", RaceTime: "8:20.000", Status: model.StatusRunning},
			{Position: 2, Name: "Caio", GapToLeader: "+1 lap", Status: model.StatusRunning},
		},
	}
	out := render(snap)
	assert.Contains(t, out, "Interlagos")
	assert.Contains(t, out, "Lap 4/20")
	assert.Contains(t, out, "DRIVER")
	assert.Contains(t, out, "Ana")
	assert.Contains(t, out, "ANA")
	assert.Contains(t, out, "+1 lap")
}

func TestRenderBaseline(t *testing.T) {
	out := render(racestate.Baseline())
	assert.Contains(t, out, model.SessionStatusDisconnected)
	assert.Contains(t, out, "no drivers")
	assert.Contains(t, out, "Remaining 00h 00m")
}
