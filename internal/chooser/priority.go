package chooser

import (
	bt "github.com/joeycumines/go-behaviortree"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/models"
)

// Priority picks the first candidate, in order, that can run. The running
// behavior counts as runnable so it is not preempted by a lower entry.
type Priority struct {
	name       string
	candidates []*behavior.Behavior
	fallback   *behavior.Behavior
	tree       bt.Node

	current *behavior.Behavior
	chosen  *behavior.Behavior
}

// NewPriority builds a strict-priority chooser.
func NewPriority(cfg models.ChooserConfig, deps Deps) (*Priority, error) {
	list, err := candidates(cfg, deps.Lookup)
	if err != nil {
		return nil, err
	}
	fb, err := fallback(cfg, deps.Lookup, false)
	if err != nil {
		return nil, err
	}
	p := &Priority{name: cfg.Name, candidates: list, fallback: fb}
	leaves := make([]bt.Node, 0, len(list))
	for _, b := range list {
		leaves = append(leaves, p.leaf(b))
	}
	p.tree = bt.New(bt.Selector, leaves...)
	return p, nil
}

// leaf succeeds, recording b, when b may run this tick.
func (p *Priority) leaf(b *behavior.Behavior) bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) {
		if keepRunning(p.current, b) || b.CanRun(behavior.Preconditions{}) {
			p.chosen = b
			return bt.Success, nil
		}
		return bt.Failure, nil
	})
}

func (p *Priority) Name() string { return p.name }

// Candidates returns the ordered candidate list.
func (p *Priority) Candidates() []*behavior.Behavior {
	return append([]*behavior.Behavior(nil), p.candidates...)
}

func (p *Priority) OnSelected()   {}
func (p *Priority) OnDeselected() {}
func (p *Priority) Update()       {}

func (p *Priority) ChooseNextBehavior(current *behavior.Behavior) *behavior.Behavior {
	p.current, p.chosen = current, nil
	defer func() { p.current = nil }()
	if status, err := p.tree.Tick(); err != nil || status != bt.Success {
		return p.fallback
	}
	return p.chosen
}

// Scored picks the candidate with the highest EvaluateScore. Ties go to the
// earlier candidate and a zero score never wins.
type Scored struct {
	name       string
	candidates []*behavior.Behavior
	fallback   *behavior.Behavior
}

// NewScored builds a scored chooser.
func NewScored(cfg models.ChooserConfig, deps Deps) (*Scored, error) {
	list, err := candidates(cfg, deps.Lookup)
	if err != nil {
		return nil, err
	}
	fb, err := fallback(cfg, deps.Lookup, false)
	if err != nil {
		return nil, err
	}
	return &Scored{name: cfg.Name, candidates: list, fallback: fb}, nil
}

func (s *Scored) Name() string  { return s.name }
func (s *Scored) OnSelected()   {}
func (s *Scored) OnDeselected() {}
func (s *Scored) Update()       {}

func (s *Scored) ChooseNextBehavior(*behavior.Behavior) *behavior.Behavior {
	var (
		best      *behavior.Behavior
		bestScore float64
	)
	for _, b := range s.candidates {
		if score := b.EvaluateScore(); score > bestScore {
			best, bestScore = b, score
		}
	}
	if best == nil {
		return s.fallback
	}
	return best
}
