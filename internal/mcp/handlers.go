package mcp

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/cozmo-brain/internal/assembly"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/models"
	"github.com/nvandessel/cozmo-brain/internal/ratelimit"
	"github.com/nvandessel/cozmo-brain/internal/telemetry"
)

const (
	overviewURI = "brain://overview"

	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// errNoJournal is returned by brain_history when telemetry is disabled.
var errNoJournal = errors.New("telemetry journal not configured; enable telemetry to record history")

// publishable lists the robot observations a client may inject. Events the
// behavior system publishes itself are not accepted.
var publishable = map[events.Tag]bool{
	events.TagCliffEvent:            true,
	events.TagOffTreadsStateChanged: true,
	events.TagObjectUpAxisChanged:   true,
	events.TagObjectMoved:           true,
	events.TagObjectTapped:          true,
	events.TagRobotObservedFace:     true,
	events.TagRobotDeletedFace:      true,
	events.TagVoiceCommand:          true,
	events.TagUnexpectedMovement:    true,
}

// registerTools registers all brain MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolStatus,
		Description: "Get the current behavior, chooser, reaction trigger and spark state of the running brain",
	}, s.handleStatus)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolPublishEvent,
		Description: "Inject a robot observation (cliff, pickup, cube, face, voice command) into the brain's event bus",
	}, s.handlePublishEvent)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolRequestSpark,
		Description: "Request a spark (a directed activity such as a trick) or cancel the requested one",
	}, s.handleRequestSpark)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolTriggers,
		Description: "List reaction triggers in priority order with their strategy, behavior and disable locks",
	}, s.handleTriggers)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolHistory,
		Description: "Query journaled telemetry (behavior starts and stops, reactions, spark outcomes) with a summary",
	}, s.handleHistory)
}

// registerResources registers MCP resources.
func (s *Server) registerResources() {
	s.server.AddResource(&sdk.Resource{
		URI:         overviewURI,
		Name:        "brain-overview",
		Description: "Loaded behaviors, reaction triggers and chooser trees of the running brain.",
		MIMEType:    "text/markdown",
	}, s.handleOverviewResource)
}

func (s *Server) handleOverviewResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	report := assembly.Describe(s.brain, assembly.FormatMarkdown)
	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{
				URI:      overviewURI,
				MIMEType: "text/markdown",
				Text:     report.Text,
			},
		},
	}, nil
}

// handleStatus implements brain_status.
func (s *Server) handleStatus(ctx context.Context, req *sdk.CallToolRequest, args BrainStatusInput) (_ *sdk.CallToolResult, _ BrainStatusOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolStatus, start, retErr, sanitizeToolParams(map[string]any{}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ToolStatus); err != nil {
		return nil, BrainStatusOutput{}, err
	}

	view := newStatusView(s.brain.Scheduler.Snapshot())
	return nil, BrainStatusOutput{Status: view, Summary: summarizeStatus(view)}, nil
}

func summarizeStatus(v StatusView) string {
	var sb strings.Builder
	switch {
	case v.Behavior == "":
		sb.WriteString("idle")
	case v.Trigger != models.TriggerNone.String():
		fmt.Fprintf(&sb, "reacting to %s with %s", v.Trigger, v.Behavior)
	default:
		fmt.Fprintf(&sb, "running %s", v.Behavior)
	}
	if v.Chooser != "" {
		fmt.Fprintf(&sb, " (chooser %s", v.Chooser)
		if v.ActiveSpark != "" {
			fmt.Fprintf(&sb, ", spark %s", v.ActiveSpark)
		}
		sb.WriteString(")")
	}
	fmt.Fprintf(&sb, " at tick %d", v.Tick)
	return sb.String()
}

// handlePublishEvent implements brain_publish_event. Body state and cube
// axis changes go through the simulated robot so its state agrees with the
// event; everything else is published on the bus as given.
func (s *Server) handlePublishEvent(ctx context.Context, req *sdk.CallToolRequest, args PublishEventInput) (_ *sdk.CallToolResult, _ PublishEventOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolPublishEvent, start, retErr, sanitizeToolParams(map[string]any{
			"tag": args.Tag, "fields": args.Fields,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ToolPublishEvent); err != nil {
		return nil, PublishEventOutput{}, err
	}

	tag := events.Tag(args.Tag)
	if !publishable[tag] {
		valid := slices.Sorted(maps.Keys(publishable))
		return nil, PublishEventOutput{}, fmt.Errorf("tag %q cannot be published (valid: %v)", args.Tag, valid)
	}
	payload, err := events.DecodePayload(tag, args.Fields)
	if err != nil {
		return nil, PublishEventOutput{}, err
	}

	out := PublishEventOutput{Tag: tag}
	switch p := payload.(type) {
	case events.OffTreadsStateChanged:
		if p.State == "" {
			return nil, PublishEventOutput{}, errors.New("state is required")
		}
		s.brain.Robot.SetOffTreads(p.State)
		out.Message = fmt.Sprintf("robot is now %s", p.State)
	case events.ObjectUpAxisChanged:
		if p.ObjectID == models.ObjectNone || p.UpAxis == "" {
			return nil, PublishEventOutput{}, errors.New("object_id and up_axis are required")
		}
		s.brain.Robot.SetUpAxis(p.ObjectID, p.UpAxis)
		out.Message = fmt.Sprintf("cube %d now has %s up", p.ObjectID, p.UpAxis)
	default:
		ev := s.brain.Bus.Publish(tag, payload)
		out.ID = ev.ID
		out.Message = fmt.Sprintf("%s queued for the next tick", tag)
	}
	s.log.Debug("event injected", "tag", tag, "id", out.ID)
	return nil, out, nil
}

// handleRequestSpark implements brain_request_spark.
func (s *Server) handleRequestSpark(ctx context.Context, req *sdk.CallToolRequest, args RequestSparkInput) (_ *sdk.CallToolResult, _ RequestSparkOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolRequestSpark, start, retErr, sanitizeToolParams(map[string]any{
			"spark": args.Spark, "soft": args.Soft, "cancel": args.Cancel,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ToolRequestSpark); err != nil {
		return nil, RequestSparkOutput{}, err
	}

	if args.Cancel {
		if args.Spark != "" {
			return nil, RequestSparkOutput{}, errors.New("spark and cancel are mutually exclusive")
		}
		s.brain.Bus.Publish(events.TagCancelSpark, events.CancelSpark{})
		return nil, RequestSparkOutput{Message: "spark cancel queued"}, nil
	}

	if err := s.brain.RequestSpark(models.UnlockID(args.Spark), args.Soft); err != nil {
		return nil, RequestSparkOutput{}, err
	}
	kind := "hard"
	if args.Soft {
		kind = "soft"
	}
	return nil, RequestSparkOutput{Message: fmt.Sprintf("%s spark %s requested", kind, args.Spark)}, nil
}

// handleTriggers implements brain_triggers.
func (s *Server) handleTriggers(ctx context.Context, req *sdk.CallToolRequest, args TriggersInput) (_ *sdk.CallToolResult, _ TriggersOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolTriggers, start, retErr, sanitizeToolParams(map[string]any{}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ToolTriggers); err != nil {
		return nil, TriggersOutput{}, err
	}

	triggers := s.brain.Triggers()
	if triggers == nil {
		triggers = []assembly.TriggerInfo{}
	}
	return nil, TriggersOutput{Triggers: triggers, Count: len(triggers)}, nil
}

// handleHistory implements brain_history.
func (s *Server) handleHistory(ctx context.Context, req *sdk.CallToolRequest, args HistoryInput) (_ *sdk.CallToolResult, _ HistoryOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolHistory, start, retErr, sanitizeToolParams(map[string]any{
			"tags": args.Tags, "since_sec": args.SinceSec, "limit": args.Limit,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ToolHistory); err != nil {
		return nil, HistoryOutput{}, err
	}
	if s.journal == nil {
		return nil, HistoryOutput{}, errNoJournal
	}

	filter := telemetry.Filter{Limit: args.Limit}
	switch {
	case args.Limit < 0:
		return nil, HistoryOutput{}, fmt.Errorf("limit must not be negative, got %d", args.Limit)
	case args.Limit == 0:
		filter.Limit = defaultHistoryLimit
	case args.Limit > maxHistoryLimit:
		filter.Limit = maxHistoryLimit
	}
	for _, t := range args.Tags {
		tag := events.Tag(t)
		if !events.KnownTag(tag) {
			return nil, HistoryOutput{}, fmt.Errorf("unknown event tag %q", t)
		}
		filter.Tags = append(filter.Tags, tag)
	}
	if args.SinceSec > 0 {
		filter.Since = s.brain.Clock.Now().Add(-time.Duration(args.SinceSec * float64(time.Second)))
	}

	entries, err := s.journal.Query(ctx, filter)
	if err != nil {
		return nil, HistoryOutput{}, fmt.Errorf("failed to query journal: %w", err)
	}
	if entries == nil {
		entries = []telemetry.Entry{}
	}
	return nil, HistoryOutput{
		Entries: entries,
		Summary: telemetry.Summarize(entries),
		Count:   len(entries),
	}, nil
}
