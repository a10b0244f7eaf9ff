package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tbssrun/internal/cohort"
	"tbssrun/internal/design"
	"tbssrun/internal/failure"
	"tbssrun/internal/layout"
	"tbssrun/internal/logging"
	"tbssrun/internal/metric"
	"tbssrun/internal/pipeline"
	"tbssrun/internal/stage"
	"tbssrun/internal/staging"
	"tbssrun/internal/testsupport"
)

type fixture struct {
	layout  *layout.Layout
	cohort  *cohort.Cohort
	toolkit *testsupport.FakeToolkit
	gate    *stage.ScriptedGate
	opts    pipeline.Options
}

func newFixture(t *testing.T, c *cohort.Cohort, secondary ...metric.Kind) *fixture {
	t.Helper()
	base := t.TempDir()
	l := layout.New(filepath.Join(base, "tbss"), ".nii.gz")
	if c == nil {
		c = testsupport.NewCohort(t, filepath.Join(base, "src"), 20, 1)
	}
	kinds := append([]metric.Kind{metric.FA}, secondary...)
	if _, err := staging.New(l, 4, logging.NewNop()).Stage(context.Background(), c, kinds); err != nil {
		t.Fatalf("stage cohort: %v", err)
	}
	return &fixture{
		layout:  l,
		cohort:  c,
		toolkit: &testsupport.FakeToolkit{},
		gate:    stage.NewScriptedGate(nil),
		opts: pipeline.Options{
			RunID:        "run-1",
			Registration: "T",
			SkeletonMode: "S",
			Threshold:    0.2,
			Permutations: 500,
			TFCE:         true,
			Secondary:    secondary,
		},
	}
}

func (f *fixture) run(t *testing.T) (*pipeline.Result, error) {
	t.Helper()
	runner := stage.NewRunner(f.gate, logging.NewNop(), stage.WithExecutor(f.toolkit))
	o := pipeline.New(f.layout, f.cohort, runner, f.opts, logging.NewNop())
	return o.Run(context.Background())
}

func TestRunCompletesFullProtocol(t *testing.T) {
	f := newFixture(t, nil, metric.MD, metric.AD, metric.RD)

	res, err := f.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != pipeline.StateCompleted {
		t.Fatalf("expected completed, got %s (%s)", res.State, res.Reason)
	}

	wantStages := []string{
		"preprocess", "register", "skeletonize-FA", "project-FA", "verify-order", "compare-FA",
		"project-MD", "compare-MD", "project-AD", "compare-AD", "project-RD", "compare-RD",
	}
	if diff := cmp.Diff(wantStages, res.Executed); diff != "" {
		t.Fatalf("executed stages mismatch (-want +got):\n%s", diff)
	}
	wantTools := []string{
		"tbss_1_preproc", "tbss_2_reg", "tbss_3_postreg", "tbss_4_prestats", "randomise",
		"tbss_non_FA", "randomise", "tbss_non_FA", "randomise", "tbss_non_FA", "randomise",
	}
	if diff := cmp.Diff(wantTools, f.toolkit.Tools()); diff != "" {
		t.Fatalf("tool calls mismatch (-want +got):\n%s", diff)
	}
	wantAsked := []string{
		pipeline.CheckpointPreRegistration,
		pipeline.CheckpointSkeleton,
		pipeline.CheckpointOrdering,
	}
	if diff := cmp.Diff(wantAsked, f.gate.Asked()); diff != "" {
		t.Fatalf("checkpoints mismatch (-want +got):\n%s", diff)
	}

	if len(res.Designs) != 4 || len(res.Outputs) != 4 {
		t.Fatalf("expected 4 designs and 4 output sets, got %d and %d", len(res.Designs), len(res.Outputs))
	}
	for _, kind := range metric.All() {
		m := res.Designs[kind]
		if m.Controls != 20 || m.Patients != 1 {
			t.Fatalf("%s design: %d controls, %d patients", kind, m.Controls, m.Patients)
		}
		for _, ext := range []string{".mat", ".con"} {
			if _, err := os.Stat(f.layout.StatsPath("design_" + kind.String() + ext)); err != nil {
				t.Fatalf("%s design file: %v", kind, err)
			}
		}
		outputs := res.Outputs[kind]
		if len(outputs) != 4 || !strings.HasSuffix(outputs[2], "tbss_"+kind.String()+"_tfce_corrp_tstat1.nii.gz") {
			t.Fatalf("%s outputs: %v", kind, outputs)
		}
	}
}

func TestRunPassesProtocolArguments(t *testing.T) {
	f := newFixture(t, nil, metric.MD)
	f.opts.Registration = "n"
	f.opts.SkeletonMode = "T"
	f.opts.TFCE = false
	f.opts.Permutations = 20

	if _, err := f.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	calls := f.toolkit.Calls()
	byTool := make(map[string][]string)
	for _, c := range calls {
		byTool[c.Binary] = c.Args
		if c.Dir != f.layout.Root() {
			t.Fatalf("%s ran in %s, want %s", c.Binary, c.Dir, f.layout.Root())
		}
	}
	if diff := cmp.Diff([]string{"-n"}, byTool["tbss_2_reg"]); diff != "" {
		t.Fatalf("register args (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-T"}, byTool["tbss_3_postreg"]); diff != "" {
		t.Fatalf("postreg args (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"0.2"}, byTool["tbss_4_prestats"]); diff != "" {
		t.Fatalf("prestats args (-want +got):\n%s", diff)
	}
	if got := len(calls[0].Args); got != 21 {
		t.Fatalf("expected 21 preprocessing inputs, got %d", got)
	}
	wantRandomise := []string{
		"-i", "stats/all_MD_skeletonised.nii.gz",
		"-o", "stats/tbss_MD",
		"-m", "stats/mean_FA_skeleton_mask",
		"-d", "stats/design_MD.mat",
		"-t", "stats/design_MD.con",
		"-n", "20",
		"-x",
	}
	if diff := cmp.Diff(wantRandomise, byTool["randomise"]); diff != "" {
		t.Fatalf("randomise args (-want +got):\n%s", diff)
	}
}

func TestRunStopsOnStageFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.toolkit.Fail = map[string]error{"tbss_2_reg": errors.New("exit status 1")}

	res, err := f.run(t)
	if err == nil {
		t.Fatal("expected failure")
	}
	var sf *stage.StageFailure
	if !errors.As(err, &sf) || sf.Stage != pipeline.StageRegister {
		t.Fatalf("expected register StageFailure, got %v", err)
	}
	if res.State != pipeline.StateFailed || res.FailedStage != pipeline.StageRegister {
		t.Fatalf("unexpected result: %+v", res)
	}
	if diff := cmp.Diff([]string{"tbss_1_preproc", "tbss_2_reg"}, f.toolkit.Tools()); diff != "" {
		t.Fatalf("tool calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRunStopsWhenSkeletonDeclined(t *testing.T) {
	f := newFixture(t, nil, metric.MD)
	f.gate = stage.NewScriptedGate(map[string]bool{pipeline.CheckpointSkeleton: false})

	res, err := f.run(t)
	if failure.KindOf(err) != failure.KindDeclined {
		t.Fatalf("expected declined, got %v", err)
	}
	if res.FailedStage != pipeline.StageSkeletonize {
		t.Fatalf("expected failure at skeletonize, got %q", res.FailedStage)
	}
	for _, tool := range f.toolkit.Tools() {
		if tool == "tbss_4_prestats" || tool == "randomise" {
			t.Fatalf("%s ran after a declined checkpoint", tool)
		}
	}
	if len(res.Designs) != 0 {
		t.Fatalf("expected no designs, got %d", len(res.Designs))
	}
}

func TestRunRejectsMisorderedCohort(t *testing.T) {
	src := t.TempDir()
	specs := []cohort.SubjectSpec{
		testsupport.SubjectSpec(src, cohort.Patient, "", "P01"),
		testsupport.SubjectSpec(src, cohort.Control, "", "C01"),
		testsupport.SubjectSpec(src, cohort.Control, "", "C02"),
	}
	for _, s := range specs {
		testsupport.WriteSources(t, s)
	}
	c, err := cohort.New(specs...)
	if err != nil {
		t.Fatalf("cohort.New: %v", err)
	}
	f := newFixture(t, c)

	res, err := f.run(t)
	if failure.ExitCode(err) != failure.ExitOrdering {
		t.Fatalf("expected ordering exit code, got %d (%v)", failure.ExitCode(err), err)
	}
	if res.FailedStage != pipeline.StagePreprocess {
		t.Fatalf("expected failure at preprocess, got %q", res.FailedStage)
	}
	if calls := f.toolkit.Calls(); len(calls) != 0 {
		t.Fatalf("expected no tool invocations, got %v", f.toolkit.Tools())
	}
}

func TestRunRequiresFreshStaging(t *testing.T) {
	f := newFixture(t, nil, metric.MD)
	if err := os.Remove(f.layout.DestinationFor(metric.MD, f.cohort.Subjects[3].Subject)); err != nil {
		t.Fatalf("remove staged volume: %v", err)
	}

	res, err := f.run(t)
	if failure.KindOf(err) != failure.KindStaging {
		t.Fatalf("expected staging error, got %v", err)
	}
	if res.FailedStage != pipeline.StagePreprocess {
		t.Fatalf("expected failure at preprocess, got %q", res.FailedStage)
	}
}

func TestRunFailsPreprocessWhenStagedListingUnreadable(t *testing.T) {
	f := newFixture(t, nil)
	faDir := f.layout.MetricDir(metric.FA)
	if err := os.RemoveAll(faDir); err != nil {
		t.Fatalf("remove FA dir: %v", err)
	}
	testsupport.WriteFile(t, faDir, []byte("not a directory"))

	res, err := f.run(t)
	var sf *stage.StageFailure
	if !errors.As(err, &sf) {
		t.Fatalf("expected StageFailure, got %v", err)
	}
	if sf.Stage != pipeline.StagePreprocess || !strings.Contains(err.Error(), "list staged FA volumes") {
		t.Fatalf("unexpected failure: %v", err)
	}
	if res.FailedStage != pipeline.StagePreprocess {
		t.Fatalf("expected failure at preprocess, got %q", res.FailedStage)
	}
	if calls := f.toolkit.Tools(); len(calls) != 0 {
		t.Fatalf("expected no tool calls, got %v", calls)
	}
}

func TestRunSkipsMismatchedComparisonAndContinues(t *testing.T) {
	f := newFixture(t, nil, metric.MD, metric.RD)
	victim := f.layout.DestinationFor(metric.MD, f.cohort.Subjects[0].Subject)
	f.toolkit.Before = map[string]func(string, []string){
		"tbss_non_FA": func(_ string, args []string) {
			if len(args) == 1 && args[0] == "MD" {
				_ = os.Remove(victim)
			}
		},
	}

	res, err := f.run(t)
	var mismatch *design.CohortMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected cohort mismatch, got %v", err)
	}
	if mismatch.Metric != metric.MD || mismatch.Staged != 20 {
		t.Fatalf("unexpected mismatch: %+v", mismatch)
	}
	if failure.ExitCode(err) != failure.ExitMismatch {
		t.Fatalf("expected mismatch exit code, got %d", failure.ExitCode(err))
	}
	if res.State != pipeline.StateFailed || res.FailedStage != "compare-MD" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if diff := cmp.Diff([]string{"compare-MD"}, res.Skipped); diff != "" {
		t.Fatalf("skipped mismatch (-want +got):\n%s", diff)
	}
	if _, ok := res.Outputs[metric.RD]; !ok {
		t.Fatal("expected RD comparison to run after MD was skipped")
	}
	if _, ok := res.Outputs[metric.MD]; ok {
		t.Fatal("expected no MD outputs")
	}
}

func TestSecondaryMetricsFollowPrimaryComparison(t *testing.T) {
	f := newFixture(t, nil, metric.AD)
	runner := stage.NewRunner(f.gate, logging.NewNop(), stage.WithExecutor(f.toolkit))
	o := pipeline.New(f.layout, f.cohort, runner, f.opts, logging.NewNop())

	var names []string
	deps := make(map[string][]string)
	for _, s := range o.Protocol() {
		names = append(names, s.Name)
		deps[s.Name] = s.DependsOn
	}
	want := []string{"preprocess", "register", "skeletonize-FA", "project-FA", "verify-order", "compare-FA", "project-AD", "compare-AD"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("protocol mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"skeletonize-FA", "compare-FA"}, deps["project-AD"]); diff != "" {
		t.Fatalf("project-AD dependencies (-want +got):\n%s", diff)
	}
	if len(f.toolkit.Calls()) != 0 {
		t.Fatal("building the protocol must not invoke tools")
	}
}

func TestVerifyOrderCheckpointShowsListing(t *testing.T) {
	f := newFixture(t, nil)
	var hint string
	gate := &capturingGate{onConfirm: func(cp stage.Checkpoint) {
		if cp.Name == pipeline.CheckpointOrdering {
			hint = cp.Hint
		}
	}}
	runner := stage.NewRunner(gate, logging.NewNop(), stage.WithExecutor(f.toolkit))
	o := pipeline.New(f.layout, f.cohort, runner, f.opts, logging.NewNop())
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasPrefix(hint, "Expecting 20 controls followed by 1 patients:") {
		t.Fatalf("unexpected hint header: %q", hint)
	}
	lines := strings.Split(hint, "\n")
	if len(lines) != 22 || !strings.HasSuffix(lines[21], "PAT_P01_FA.nii.gz") {
		t.Fatalf("unexpected listing:\n%s", hint)
	}
}

type capturingGate struct {
	onConfirm func(stage.Checkpoint)
}

func (g *capturingGate) Confirm(_ context.Context, cp stage.Checkpoint) (stage.Decision, error) {
	g.onConfirm(cp)
	return stage.Decision{Checkpoint: cp.Name, Approved: true, Reason: "ok"}, nil
}
