package chooser

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/behaviors"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/invariant"
	"github.com/nvandessel/cozmo-brain/internal/models"
)

// PollInterval is how often the build-pyramid chooser re-reads the block
// world. Up-axis events are handled as they arrive.
const PollInterval = 250 * time.Millisecond

// PyramidPhase selects which delegate the build-pyramid chooser uses.
type PyramidPhase int

const (
	PyramidPhaseNone PyramidPhase = iota
	PyramidPhaseSetup
	PyramidPhaseBuilding
)

func (p PyramidPhase) String() string {
	switch p {
	case PyramidPhaseNone:
		return "None"
	case PyramidPhaseSetup:
		return "Setup"
	case PyramidPhaseBuilding:
		return "Building"
	}
	return fmt.Sprintf("PyramidPhase(%d)", int(p))
}

// Stage is how far construction has come.
type Stage int

const (
	StageSetup Stage = iota
	StageBase
	StageTop
	StageComplete
)

func (s Stage) String() string {
	switch s {
	case StageSetup:
		return "Setup"
	case StageBase:
		return "Base"
	case StageTop:
		return "Top"
	case StageComplete:
		return "Complete"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// CubeRole is a cube's place in the pyramid.
type CubeRole int

const (
	RoleNone CubeRole = iota
	RoleBase
	RoleStatic
	RoleTop
)

func (r CubeRole) String() string {
	switch r {
	case RoleNone:
		return "None"
	case RoleBase:
		return "Base"
	case RoleStatic:
		return "Static"
	case RoleTop:
		return "Top"
	}
	return fmt.Sprintf("CubeRole(%d)", int(r))
}

// CubeState is the chooser's side-table entry for one cube.
type CubeState struct {
	UpAxis       models.UpAxis
	Lights       string
	Role         CubeRole
	EverUpright  bool
	Acknowledged bool

	needsThanks   bool
	rolledByRobot bool
}

// Placer is implemented by behaviors the chooser aims at cube pairs.
type Placer interface {
	Role() string
	SetPlacement(pick, onto models.ObjectID)
}

type pyramidParams struct {
	ThankBehavior  models.BehaviorID `yaml:"thank_behavior"`
	RollBehavior   models.BehaviorID `yaml:"roll_behavior"`
	PollIntervalMS int               `yaml:"poll_interval_ms"`
}

// Light patterns and music states keyed by construction stage.
var (
	stageMusic = map[Stage]string{
		StageSetup:    "PyramidSetup",
		StageBase:     "PyramidBase",
		StageTop:      "PyramidTop",
		StageComplete: "PyramidComplete",
	}
	roleLights = map[CubeRole]string{
		RoleStatic: "PyramidStatic",
		RoleBase:   "PyramidBase",
		RoleTop:    "PyramidTop",
	}
)

// BuildPyramid coaches the user into setting three cubes upright, then
// builds a pyramid out of them.
type BuildPyramid struct {
	name     string
	setup    Chooser
	building Chooser
	fallback *behavior.Behavior
	thank    *behavior.Behavior
	roll     *behavior.Behavior
	placers  []Placer
	poll     time.Duration

	env   *behavior.Env
	log   *slog.Logger
	unsub []func()

	cubes     map[models.ObjectID]*CubeState
	lastPoll  time.Time
	phase     PyramidPhase
	stage     Stage
	baseBuilt bool
	built     bool
	prereqs   bool
	usable    int

	// Dirty flags gating the light and music recompute.
	stageChanged     bool
	setupAxisChanged bool
	baseCountChanged bool
	baseCount        int
	lightUpdates     int
}

// NewBuildPyramid builds the chooser and its two phase delegates.
func NewBuildPyramid(cfg models.ChooserConfig, deps Deps) (*BuildPyramid, error) {
	p := pyramidParams{
		ThankBehavior:  "ReactToCubeRighted",
		RollBehavior:   "RespondPossiblyRoll",
		PollIntervalMS: int(PollInterval / time.Millisecond),
	}
	if err := models.DecodeParams(cfg.Params, &p); err != nil {
		return nil, fmt.Errorf("chooser %q: %w", cfg.Name, err)
	}
	if p.PollIntervalMS <= 0 {
		return nil, fmt.Errorf("chooser %q: poll_interval_ms must be positive", cfg.Name)
	}
	c := &BuildPyramid{
		name:  cfg.Name,
		poll:  time.Duration(p.PollIntervalMS) * time.Millisecond,
		env:   deps.Env,
		log:   deps.logger().With("chooser", cfg.Name),
		cubes: make(map[models.ObjectID]*CubeState),
	}
	var err error
	if c.thank, err = behaviorParam(deps.Lookup, cfg.Name, "thank_behavior", p.ThankBehavior); err != nil {
		return nil, err
	}
	if c.roll, err = behaviorParam(deps.Lookup, cfg.Name, "roll_behavior", p.RollBehavior); err != nil {
		return nil, err
	}
	if c.fallback, err = fallback(cfg, deps.Lookup, true); err != nil {
		return nil, err
	}
	if c.setup, err = build(*cfg.Setup, deps); err != nil {
		return nil, err
	}
	if c.building, err = build(*cfg.Building, deps); err != nil {
		return nil, err
	}
	for _, b := range deps.Lookup.All() {
		if pl, ok := b.Policy().(Placer); ok {
			c.placers = append(c.placers, pl)
		}
	}
	return c, nil
}

func (c *BuildPyramid) Name() string { return c.name }

// Phase returns the active delegate phase.
func (c *BuildPyramid) Phase() PyramidPhase { return c.phase }

// Stage returns the construction stage.
func (c *BuildPyramid) Stage() Stage { return c.stage }

// PrereqsMet reports whether three usable cubes are known.
func (c *BuildPyramid) PrereqsMet() bool { return c.prereqs }

// Cube returns a copy of the side-table entry for id.
func (c *BuildPyramid) Cube(id models.ObjectID) (CubeState, bool) {
	cs, ok := c.cubes[id]
	if !ok {
		return CubeState{}, false
	}
	return *cs, true
}

// LightUpdates counts light/music recomputes.
func (c *BuildPyramid) LightUpdates() int { return c.lightUpdates }

func (c *BuildPyramid) OnSelected() {
	clear(c.cubes)
	c.lastPoll = time.Time{}
	c.phase = PyramidPhaseNone
	c.stage = StageSetup
	c.baseBuilt, c.built, c.prereqs = false, false, false
	c.usable, c.baseCount = 0, 0
	c.stageChanged, c.setupAxisChanged, c.baseCountChanged = true, false, false
	c.unsub = append(c.unsub,
		c.env.Bus.Subscribe(events.TagObjectUpAxisChanged, c.handleUpAxis),
		c.env.Bus.Subscribe(events.TagBehaviorObjectiveAchieved, c.handleObjective),
	)
	c.refresh()
}

func (c *BuildPyramid) OnDeselected() {
	for _, u := range c.unsub {
		u()
	}
	c.unsub = nil
	for _, id := range slices.Sorted(maps.Keys(c.cubes)) {
		if c.cubes[id].Lights != "" {
			c.env.Robot.ClearCubeLights(id)
			c.cubes[id].Lights = ""
		}
	}
	for _, pl := range c.placers {
		pl.SetPlacement(models.ObjectNone, models.ObjectNone)
	}
	if c.phase == PyramidPhaseSetup {
		c.setup.OnDeselected()
	} else if c.phase == PyramidPhaseBuilding {
		c.building.OnDeselected()
	}
	c.phase = PyramidPhaseNone
}

func (c *BuildPyramid) handleUpAxis(ev events.Event) {
	if p, ok := ev.Payload.(events.ObjectUpAxisChanged); ok {
		c.applyAxis(p.ObjectID, p.UpAxis)
	}
}

func (c *BuildPyramid) handleObjective(ev events.Event) {
	p, ok := ev.Payload.(events.ObjectiveAchieved)
	if !ok {
		return
	}
	switch p.Objective {
	case behaviors.ObjectiveRolledCube:
		if cs, found := c.cubes[p.ObjectID]; found {
			cs.rolledByRobot = true
		}
	case behaviors.ObjectiveThankedUser:
		if cs, found := c.cubes[p.ObjectID]; found {
			cs.Acknowledged = true
			cs.needsThanks = false
		}
	case behaviors.ObjectiveBuiltBase:
		c.baseBuilt = true
	case behaviors.ObjectiveBuiltPyramid:
		c.built = true
	}
}

// applyAxis records a cube's up axis. A cube already known on its side
// that turns upright without the robot rolling it earns a thank-you.
func (c *BuildPyramid) applyAxis(id models.ObjectID, axis models.UpAxis) {
	cs, known := c.cubes[id]
	if !known {
		cs = &CubeState{}
		c.cubes[id] = cs
	}
	if cs.UpAxis == axis {
		return
	}
	wasUpright := cs.UpAxis.Upright()
	cs.UpAxis = axis
	if axis.Upright() {
		if known && !wasUpright && !cs.rolledByRobot && !cs.Acknowledged {
			cs.needsThanks = true
		}
		cs.EverUpright = true
		cs.rolledByRobot = false
	} else {
		cs.needsThanks = false
		cs.Acknowledged = false
	}
	if c.phase == PyramidPhaseSetup || c.phase == PyramidPhaseNone {
		c.setupAxisChanged = true
	}
}

func (c *BuildPyramid) pollBlockWorld(now time.Time) {
	if !c.lastPoll.IsZero() && now.Sub(c.lastPoll) < c.poll {
		return
	}
	c.lastPoll = now
	seen := make(map[models.ObjectID]bool)
	for _, o := range c.env.Robot.Objects() {
		seen[o.ID] = true
		c.applyAxis(o.ID, o.UpAxis)
	}
	for id := range c.cubes {
		if !seen[id] {
			delete(c.cubes, id)
			c.setupAxisChanged = true
		}
	}
}

func (c *BuildPyramid) Update() {
	c.pollBlockWorld(c.env.Clock.Now())
	c.refresh()
	switch c.phase {
	case PyramidPhaseSetup:
		c.setup.Update()
	case PyramidPhaseBuilding:
		c.building.Update()
	}
}

// refresh recomputes roles, stage and phase, then the lights and music if
// anything they depend on changed.
func (c *BuildPyramid) refresh() {
	upright := c.uprightCubes()
	if met := len(upright) >= 3; met != c.prereqs || len(upright) != c.usable {
		c.prereqs = met
		c.usable = len(upright)
		c.env.Bus.Publish(events.TagBuildPyramidPrereqsChanged, events.BuildPyramidPrereqsChanged{
			PrereqsMet:  met,
			UsableCubes: len(upright),
		})
	}
	c.assignRoles(upright)

	stage := StageSetup
	switch {
	case c.built:
		stage = StageComplete
	case !c.prereqs:
	case c.baseBuilt:
		stage = StageTop
	default:
		stage = StageBase
	}
	if stage != c.stage {
		c.log.Debug("pyramid stage changed", "from", c.stage, "to", stage)
		c.stage = stage
		c.stageChanged = true
	}

	baseCount := 0
	if c.roleCube(RoleStatic) != models.ObjectNone {
		baseCount = 1
		if c.baseBuilt {
			baseCount = 2
		}
	}
	if baseCount != c.baseCount {
		c.baseCount = baseCount
		c.baseCountChanged = true
	}

	phase := PyramidPhaseSetup
	if stage != StageSetup {
		phase = PyramidPhaseBuilding
	}
	if phase != c.phase {
		c.switchPhase(phase)
	}
	c.aimPlacers()

	if c.stageChanged || c.setupAxisChanged || c.baseCountChanged {
		c.updateLightsAndMusic()
		c.stageChanged, c.setupAxisChanged, c.baseCountChanged = false, false, false
	}
}

func (c *BuildPyramid) uprightCubes() []models.ObjectID {
	var out []models.ObjectID
	for _, id := range slices.Sorted(maps.Keys(c.cubes)) {
		if c.cubes[id].UpAxis.Upright() {
			out = append(out, id)
		}
	}
	return out
}

// assignRoles keeps existing roles while their cubes stay usable and fills
// the rest in id order.
func (c *BuildPyramid) assignRoles(upright []models.ObjectID) {
	usable := make(map[models.ObjectID]bool, len(upright))
	for _, id := range upright {
		usable[id] = true
	}
	for id, cs := range c.cubes {
		if cs.Role != RoleNone && !usable[id] && !c.baseBuilt {
			cs.Role = RoleNone
		}
	}
	if !c.prereqs && !c.baseBuilt {
		for _, cs := range c.cubes {
			cs.Role = RoleNone
		}
		return
	}
	for _, role := range []CubeRole{RoleStatic, RoleBase, RoleTop} {
		if c.roleCube(role) != models.ObjectNone {
			continue
		}
		for _, id := range upright {
			if c.cubes[id].Role == RoleNone {
				c.cubes[id].Role = role
				break
			}
		}
	}
}

func (c *BuildPyramid) roleCube(role CubeRole) models.ObjectID {
	for _, id := range slices.Sorted(maps.Keys(c.cubes)) {
		if c.cubes[id].Role == role {
			return id
		}
	}
	return models.ObjectNone
}

func (c *BuildPyramid) aimPlacers() {
	static, base, top := c.roleCube(RoleStatic), c.roleCube(RoleBase), c.roleCube(RoleTop)
	for _, pl := range c.placers {
		switch {
		case pl.Role() == behaviors.RoleBase && c.stage == StageBase:
			pl.SetPlacement(base, static)
		case pl.Role() == behaviors.RoleTop && c.stage == StageTop:
			pl.SetPlacement(top, base)
		default:
			pl.SetPlacement(models.ObjectNone, models.ObjectNone)
		}
	}
}

func (c *BuildPyramid) switchPhase(to PyramidPhase) {
	switch c.phase {
	case PyramidPhaseSetup:
		c.setup.OnDeselected()
	case PyramidPhaseBuilding:
		c.building.OnDeselected()
	}
	c.log.Debug("pyramid phase changed", "from", c.phase, "to", to)
	c.phase = to
	switch to {
	case PyramidPhaseSetup:
		c.setup.OnSelected()
	case PyramidPhaseBuilding:
		c.building.OnSelected()
	}
}

func (c *BuildPyramid) updateLightsAndMusic() {
	c.lightUpdates++
	r := c.env.Robot
	for _, id := range slices.Sorted(maps.Keys(c.cubes)) {
		cs := c.cubes[id]
		want := ""
		switch {
		case c.stage == StageComplete:
			want = "PyramidComplete"
		case cs.Role != RoleNone:
			want = roleLights[cs.Role]
		case cs.UpAxis.OnSide():
			want = "NeedsRoll"
		case cs.UpAxis.Upright():
			want = "Ready"
		}
		if want == cs.Lights {
			continue
		}
		if want == "" {
			r.ClearCubeLights(id)
		} else {
			r.SetCubeLights(id, want)
		}
		cs.Lights = want
	}
	r.SetMusicState(stageMusic[c.stage])
}

// ChooseNextBehavior applies the cascade: thank the user for a righted
// cube, roll a cube lying on its side, then defer to the phase delegate.
func (c *BuildPyramid) ChooseNextBehavior(current *behavior.Behavior) *behavior.Behavior {
	if keepRunning(current, c.thank) || keepRunning(current, c.roll) {
		return current
	}
	for _, id := range slices.Sorted(maps.Keys(c.cubes)) {
		cs := c.cubes[id]
		if !cs.needsThanks {
			continue
		}
		if c.tryTarget(c.thank, id) {
			cs.needsThanks = false
			cs.Acknowledged = true
			return c.thank
		}
	}
	for _, id := range slices.Sorted(maps.Keys(c.cubes)) {
		if c.cubes[id].UpAxis.OnSide() && c.tryTarget(c.roll, id) {
			return c.roll
		}
	}

	var next *behavior.Behavior
	switch c.phase {
	case PyramidPhaseSetup:
		next = c.setup.ChooseNextBehavior(current)
	case PyramidPhaseBuilding:
		next = c.building.ChooseNextBehavior(current)
	default:
		invariant.Fail("build pyramid chooser %s: no delegate for phase %s", c.name, c.phase)
	}
	if next == nil {
		return c.fallback
	}
	return next
}

func (c *BuildPyramid) tryTarget(b *behavior.Behavior, id models.ObjectID) bool {
	pre := behavior.Preconditions{Kind: models.PreconditionObject, ObjectID: id}
	if !b.CanRun(pre) {
		return false
	}
	if t, ok := b.Policy().(behavior.ObjectTargeter); ok {
		t.SetTargetObject(id)
	}
	return true
}
