package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gsapi "gridsim/pkg/api"
)

func TestParseTOUPeriod(t *testing.T) {
	p, err := parseTOUPeriod("peak, 18:00, 22:00, 0.30, 0.08")
	require.NoError(t, err)
	assert.Equal(t, gsapi.TOUPeriod{
		Label:            "peak",
		StartTime:        "18:00",
		EndTime:          "22:00",
		ImportRatePerKWh: 0.30,
		ExportRatePerKWh: 0.08,
	}, p)

	wrap, err := parseTOUPeriod("night,22:00:00,06:00:00,0.1,0")
	require.NoError(t, err)
	assert.Equal(t, "22:00:00", wrap.StartTime)

	for _, bad := range []string{
		"peak,18:00,22:00,0.3",
		",18:00,22:00,0.3,0.1",
		"peak,6pm,22:00,0.3,0.1",
		"peak,18:00,22:00,abc,0.1",
		"peak,18:00,22:00,0.3,-1",
	} {
		_, err := parseTOUPeriod(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseOccupant(t *testing.T) {
	item, err := parseOccupant("works-at-home:2")
	require.NoError(t, err)
	assert.Equal(t, gsapi.PersonProfileItem{ProfileType: gsapi.WorksAtHome, Count: 2}, item)

	item, err = parseOccupant("night_worker_outside")
	require.NoError(t, err)
	assert.Equal(t, 1, item.Count)

	_, err = parseOccupant("astronaut:1")
	assert.Error(t, err)
	_, err = parseOccupant("unspecified:x")
	assert.Error(t, err)
	_, err = parseOccupant("unspecified:-1")
	assert.Error(t, err)
}
