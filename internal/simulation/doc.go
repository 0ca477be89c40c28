// Package simulation runs scripted scenarios against a fully assembled brain
// and the simulated robot.
//
// A scenario is a YAML file: a duration, a list of timed steps (bus events,
// body state changes, cube moves, spark requests) and a list of timed
// expectations about the scheduler. The runner drives a manual clock one
// tick at a time, so runs are deterministic and finish as fast as the CPU
// allows. Every telemetry event lands in a timeline for inspection.
//
// Usage:
//
//	sc, err := simulation.LoadScenario("testdata/cliff.yaml")
//	if err != nil { ... }
//	cfg, err := sc.LoadConfig()
//	if err != nil { ... }
//	res, err := simulation.Run(ctx, sc, cfg, simulation.Options{})
//	if err != nil { ... }
//	if !res.Passed() {
//	    fmt.Print(res.FormatFailures())
//	}
package simulation
