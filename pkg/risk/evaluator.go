package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/rebelopsio/pam-core/pkg/clock"
	"github.com/rebelopsio/pam-core/pkg/models"
)

// Risk factor tags appended for auditability. Stable names; audit tooling
// keys on them.
const (
	FactorPrivilegeLevel    = "privilege_level"
	FactorUrgency           = "elevated_urgency"
	FactorEmergencyRequest  = "emergency_request"
	FactorOutsideTimeWindow = "outside_allowed_time_window"
	FactorIPNotAllowlisted  = "ip_not_allowlisted"
	FactorLongDuration      = "long_duration"
	FactorRecentFailures    = "recent_auth_failures"
)

// Default additive weights. TimeWindowPenalty is the documented +20 for
// emergency activation outside all windows.
const (
	TimeWindowPenalty   = 20
	EmergencyBonus      = 25
	LongDurationPenalty = 10
	IPAllowlistPenalty  = 15
	MaxFailurePenalty   = 15
	PerFailurePenalty   = 5
	MaxScore            = 100
)

// AbuseSignal supplies the recent-failure count for a principal. The only
// externally variable evaluator input; everything else is a pure function of
// the request, role, and clock.
type AbuseSignal interface {
	RecentFailures(ctx context.Context, principal string) int
}

// NoSignal reports zero recent failures.
type NoSignal struct{}

func (NoSignal) RecentFailures(context.Context, string) int { return 0 }

// Evaluator scores access requests and checks role time windows.
type Evaluator struct {
	clock clock.Clock
	abuse AbuseSignal
}

func NewEvaluator(clk clock.Clock, abuse AbuseSignal) *Evaluator {
	if abuse == nil {
		abuse = NoSignal{}
	}
	return &Evaluator{clock: clk, abuse: abuse}
}

// Result is the outcome of one evaluation.
type Result struct {
	Score        int
	Factors      []string
	InsideWindow bool
}

var privilegeWeights = map[models.RiskLevel]int{
	models.RiskLevelLow:      5,
	models.RiskLevelMedium:   10,
	models.RiskLevelHigh:     20,
	models.RiskLevelCritical: 30,
}

var urgencyWeights = map[models.Urgency]int{
	models.UrgencyLow:      0,
	models.UrgencyMedium:   5,
	models.UrgencyHigh:     10,
	models.UrgencyCritical: 15,
}

// Evaluate computes the additive risk score for the request against its
// resolved role. Identical inputs and clock produce identical output.
func (e *Evaluator) Evaluate(ctx context.Context, req *models.AccessRequest, role *models.PrivilegedRole) Result {
	now := e.clock.Now()
	res := Result{InsideWindow: InsideWindow(role.AllowedWindows, now)}

	score := privilegeWeights[role.RiskLevel]
	if score > 0 {
		res.Factors = append(res.Factors, FactorPrivilegeLevel)
	}

	if w := urgencyWeights[req.Urgency]; w > 0 {
		score += w
		res.Factors = append(res.Factors, FactorUrgency)
	}

	if req.Emergency {
		score += EmergencyBonus
		res.Factors = append(res.Factors, FactorEmergencyRequest)
	}

	if !res.InsideWindow {
		score += TimeWindowPenalty
		res.Factors = append(res.Factors, FactorOutsideTimeWindow)
	}

	if len(role.IPAllowlist) > 0 && !contains(role.IPAllowlist, req.SourceIP) {
		score += IPAllowlistPenalty
		res.Factors = append(res.Factors, FactorIPNotAllowlisted)
	}

	if req.RequestedDuration > role.MaxSessionDuration/2 {
		score += LongDurationPenalty
		res.Factors = append(res.Factors, FactorLongDuration)
	}

	if failures := e.abuse.RecentFailures(ctx, req.Requester); failures > 0 {
		penalty := failures * PerFailurePenalty
		if penalty > MaxFailurePenalty {
			penalty = MaxFailurePenalty
		}
		score += penalty
		res.Factors = append(res.Factors, FactorRecentFailures)
	}

	if score > MaxScore {
		score = MaxScore
	}
	res.Score = score
	return res
}

// InsideWindow reports whether now falls inside any declared window. An
// empty window list means the role is always available.
func InsideWindow(windows []models.TimeWindow, now time.Time) bool {
	if len(windows) == 0 {
		return true
	}
	for _, w := range windows {
		if inWindow(w, now) {
			return true
		}
	}
	return false
}

func inWindow(w models.TimeWindow, now time.Time) bool {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		// An unparseable timezone never matches; the loader should have
		// rejected it, but a window must fail closed here.
		return false
	}
	local := now.In(loc)

	if len(w.Weekdays) > 0 {
		match := false
		for _, day := range w.Weekdays {
			if local.Weekday() == day {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	start, err1 := parseClock(w.Start)
	end, err2 := parseClock(w.End)
	if err1 != nil || err2 != nil {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	if start <= end {
		return minutes >= start && minutes < end
	}
	// Window crosses midnight.
	return minutes >= start || minutes < end
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	return h*60 + m, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
