// Package badges derives achievement badges from an athlete's mirrored runs.
package badges

import "example.com/runhub/internal/domain"

// Rule pairs a badge with the threshold that earns it.
type Rule struct {
	Badge  domain.Badge
	Earned func(domain.RunStats) bool
}

const (
	halfMarathonMeters = 21097.5
	marathonMeters     = 42195
)

// Catalogue is the static set of badges, in display order.
var Catalogue = []Rule{
	longest("first_run", "First Steps", "Log your first run.", 0.01),
	longest("5k", "5K Finisher", "Complete a run of at least 5 km.", 5000),
	longest("10k", "10K Finisher", "Complete a run of at least 10 km.", 10000),
	longest("half_marathon", "Half Marathoner", "Complete a half marathon distance run.", halfMarathonMeters),
	longest("marathon", "Marathoner", "Complete a full marathon distance run.", marathonMeters),
	runCount("runs_10", "Consistent", "Log 10 runs.", 10),
	runCount("runs_50", "Dedicated", "Log 50 runs.", 50),
	runCount("runs_100", "Centurion", "Log 100 runs.", 100),
	totalDistance("distance_100k", "100 km Club", "Run 100 km in total.", 100_000),
	totalDistance("distance_500k", "500 km Club", "Run 500 km in total.", 500_000),
	{
		Badge: domain.Badge{ID: "climb_1000", Name: "Hill Seeker", Description: "Climb 1000 m across all runs.", Icon: "climb_1000.png"},
		Earned: func(s domain.RunStats) bool {
			return s.TotalElevationGain >= 1000
		},
	},
}

func longest(id, name, description string, meters float64) Rule {
	return Rule{
		Badge: domain.Badge{ID: id, Name: name, Description: description, Icon: id + ".png"},
		Earned: func(s domain.RunStats) bool {
			return s.Count > 0 && s.LongestRunMeters >= meters
		},
	}
}

func runCount(id, name, description string, n int) Rule {
	return Rule{
		Badge: domain.Badge{ID: id, Name: name, Description: description, Icon: id + ".png"},
		Earned: func(s domain.RunStats) bool {
			return s.Count >= n
		},
	}
}

func totalDistance(id, name, description string, meters float64) Rule {
	return Rule{
		Badge: domain.Badge{ID: id, Name: name, Description: description, Icon: id + ".png"},
		Earned: func(s domain.RunStats) bool {
			return s.TotalDistanceMeters >= meters
		},
	}
}
