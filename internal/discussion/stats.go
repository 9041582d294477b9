package discussion

import "modelpanel/internal/backend"

// ParticipantStats summarizes one participant's contribution to a
// completed session.
type ParticipantStats struct {
	Participant      string     `json:"participant"`
	Backend          backend.ID `json:"backendId"`
	Turns            int        `json:"turns"`
	ValidTurns       int        `json:"validTurns"`
	FailedTurns      int        `json:"failedTurns"`
	MeanQuality      float64    `json:"meanQuality"`
	MeanProcessingMs float64    `json:"meanProcessingMs"`
}

// SessionStats holds session-wide metrics derived from a session's
// response records.
type SessionStats struct {
	TotalTurns      int                `json:"totalTurns"`
	ValidTurns      int                `json:"validTurns"`
	FailedTurns     int                `json:"failedTurns"`
	FailuresByClass map[string]int     `json:"failuresByClass"`
	MeanQuality     float64            `json:"meanQuality"`
	RoundsCompleted int                `json:"roundsCompleted"`
	DurationMs      int64              `json:"durationMs"`
	Participants    []ParticipantStats `json:"participants"`
}

// Aggregate computes per-participant and session-wide metrics from a
// session. Pure function of the session's current contents.
func Aggregate(s *Session) SessionStats {
	stats := SessionStats{
		FailuresByClass: make(map[string]int),
		Participants:    make([]ParticipantStats, 0, len(s.Participants)),
	}

	perParticipant := make(map[string]*ParticipantStats, len(s.Participants))
	for _, p := range s.Participants {
		ps := &ParticipantStats{Participant: p.DisplayName, Backend: p.Backend}
		perParticipant[p.DisplayName] = ps
	}

	var qualitySum float64
	for _, r := range s.Responses {
		stats.TotalTurns++
		if r.Round+1 > stats.RoundsCompleted {
			stats.RoundsCompleted = r.Round + 1
		}

		ps := perParticipant[r.Participant]
		if ps == nil {
			// Turn from a participant not in the roster; count it
			// session-wide only.
			ps = &ParticipantStats{}
		}
		ps.Turns++
		ps.MeanQuality += float64(r.Quality.Score)
		ps.MeanProcessingMs += float64(r.ProcessingTimeMs)

		qualitySum += float64(r.Quality.Score)

		if r.Failed {
			stats.FailedTurns++
			ps.FailedTurns++
			stats.FailuresByClass[r.ErrorClass]++
			continue
		}
		if r.Quality.IsValid {
			stats.ValidTurns++
			ps.ValidTurns++
		}
	}

	if stats.TotalTurns > 0 {
		stats.MeanQuality = qualitySum / float64(stats.TotalTurns)
	}
	if !s.StartedAt.IsZero() && !s.CompletedAt.IsZero() {
		stats.DurationMs = s.CompletedAt.Sub(s.StartedAt).Milliseconds()
	}

	// Preserve roster order in the output.
	for _, p := range s.Participants {
		ps := perParticipant[p.DisplayName]
		if ps.Turns > 0 {
			ps.MeanQuality /= float64(ps.Turns)
			ps.MeanProcessingMs /= float64(ps.Turns)
		}
		stats.Participants = append(stats.Participants, *ps)
	}

	return stats
}
