package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var ladder = map[string]int{
	"240p":  400,
	"480p":  800,
	"720p":  1500,
	"1080p": 3000,
}

func TestPickHighestUnderBudget(t *testing.T) {
	tests := []struct {
		name  string
		probe int
		want  string
	}{
		{"ample bandwidth", 10000, "1080p"},
		{"budget fits 720p exactly", 1875, "720p"}, // 1875 * 0.8 = 1500
		{"just under 720p", 1870, "480p"},
		{"barely any bandwidth", 300, "240p"},
		{"no probe falls to lowest", 0, "240p"},
		{"negative probe falls to lowest", -1, "240p"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Pick("student", BandwidthProbe{DownlinkKbps: tt.probe}, ladder, "480p")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPickCapsGuests(t *testing.T) {
	got := Pick(RoleGuest, BandwidthProbe{DownlinkKbps: 10000}, ladder, "480p")
	assert.Equal(t, "480p", got, "guests never exceed the cap regardless of bandwidth")

	got = Pick(RoleGuest, BandwidthProbe{DownlinkKbps: 550}, ladder, "480p")
	assert.Equal(t, "240p", got, "the bandwidth budget still applies under the cap")
}

func TestPickGuestCapMissingFromLadder(t *testing.T) {
	small := map[string]int{"720p": 1500, "1080p": 3000}
	got := Pick(RoleGuest, BandwidthProbe{DownlinkKbps: 10000}, small, "480p")
	assert.Equal(t, "1080p", got, "an absent cap label leaves the ladder as-is")
}

func TestPickEmptyLadder(t *testing.T) {
	assert.Empty(t, Pick("student", BandwidthProbe{DownlinkKbps: 5000}, nil, "480p"))
}

func TestPickTieBreaksOnLabel(t *testing.T) {
	tied := map[string]int{"480p-high": 800, "480p-low": 800}
	got := Pick("student", BandwidthProbe{DownlinkKbps: 2000}, tied, "")
	assert.Equal(t, "480p-low", got)
}
