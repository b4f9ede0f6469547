package quality

import "sort"

// BandwidthProbe carries what the client measured before asking to play.
// A zero probe means the client could not measure.
type BandwidthProbe struct {
	DownlinkKbps int `json:"downlink_kbps"`
}

// Guests never stream above the configured cap no matter what they probed.
const RoleGuest = "guest"

// rendition pairs a ladder label with its bitrate for sorting.
type rendition struct {
	label   string
	bitrate int
}

// Pick selects the initial rendition for a session. The choice is capped by the
// viewer's entitlement, then by a bandwidth budget of 80% of the probed
// downlink. The highest rendition under budget wins; with no usable probe the
// lowest rendition is returned so startup never stalls on a guess.
func Pick(role string, probe BandwidthProbe, available map[string]int, guestCap string) string {
	ladder := make([]rendition, 0, len(available))
	for label, bitrate := range available {
		ladder = append(ladder, rendition{label: label, bitrate: bitrate})
	}
	if len(ladder) == 0 {
		return ""
	}
	sort.Slice(ladder, func(i, j int) bool {
		if ladder[i].bitrate != ladder[j].bitrate {
			return ladder[i].bitrate < ladder[j].bitrate
		}
		return ladder[i].label < ladder[j].label
	})

	if role == RoleGuest {
		if limit, ok := available[guestCap]; ok {
			trimmed := ladder[:0]
			for _, r := range ladder {
				if r.bitrate <= limit {
					trimmed = append(trimmed, r)
				}
			}
			if len(trimmed) > 0 {
				ladder = trimmed
			}
		}
	}

	if probe.DownlinkKbps <= 0 {
		return ladder[0].label
	}

	budget := probe.DownlinkKbps * 8 / 10
	choice := ladder[0]
	for _, r := range ladder {
		if r.bitrate <= budget {
			choice = r
		}
	}
	return choice.label
}
