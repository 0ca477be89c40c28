package behavior

import (
	"log/slog"
	"time"

	"github.com/nvandessel/cozmo-brain/internal/clock"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/models"
	"github.com/nvandessel/cozmo-brain/internal/robot"
)

// TriggerLocks is the reaction layer's reference-counted lock surface.
type TriggerLocks interface {
	Disable(lock string, t models.ReactionTrigger)
	Enable(lock string, t models.ReactionTrigger)
}

// Oracle is the read-only view of scheduler state behaviors consult.
type Oracle interface {
	ActiveSpark() models.UnlockID
	RequestedSpark() models.UnlockID
	IsRequestedSparkSoft() bool
	CurrentReactionTrigger() models.ReactionTrigger
	// LastChooserSwitch is the zero time before the first switch.
	LastChooserSwitch() time.Time
}

// Env bundles the collaborators every behavior shares. Oracle may be set
// after the behaviors are built, once the scheduler exists.
type Env struct {
	Robot    robot.Robot
	Clock    clock.Clock
	Bus      *events.Bus
	Triggers TriggerLocks
	Oracle   Oracle
	Logger   *slog.Logger
}

func (e *Env) oracle() Oracle {
	if e.Oracle == nil {
		return nullOracle{}
	}
	return e.Oracle
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Env) now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock.Now()
}

type nullOracle struct{}

func (nullOracle) ActiveSpark() models.UnlockID                   { return models.UnlockNone }
func (nullOracle) RequestedSpark() models.UnlockID                { return models.UnlockNone }
func (nullOracle) IsRequestedSparkSoft() bool                     { return false }
func (nullOracle) CurrentReactionTrigger() models.ReactionTrigger { return models.TriggerNone }
func (nullOracle) LastChooserSwitch() time.Time                   { return time.Time{} }
