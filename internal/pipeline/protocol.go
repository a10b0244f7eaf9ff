package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"tbssrun/internal/cohort"
	"tbssrun/internal/design"
	"tbssrun/internal/layout"
	"tbssrun/internal/metric"
	"tbssrun/internal/stage"
	"tbssrun/internal/staging"
)

// Stage names of the fixed protocol.
const (
	StagePreprocess  = "preprocess"
	StageRegister    = "register"
	StageSkeletonize = "skeletonize-FA"
	StageProjectFA   = "project-FA"
	StageVerifyOrder = "verify-order"
)

// Checkpoint names.
const (
	CheckpointPreRegistration = "pre-registration QA"
	CheckpointSkeleton        = "skeleton QA"
	CheckpointOrdering        = "cohort-ordering QA"
)

// ProjectStage names the projection of a secondary metric onto the skeleton.
func ProjectStage(kind metric.Kind) string { return "project-" + kind.String() }

// CompareStage names the permutation test of a metric.
func CompareStage(kind metric.Kind) string { return "compare-" + kind.String() }

// SkeletonArtifact locates the shared FA skeleton every comparison uses.
type SkeletonArtifact struct {
	AllFA        string
	MeanFA       string
	Skeleton     string
	Mask         string
	DistanceMap  string
	Skeletonised string
}

func skeletonArtifact(l *layout.Layout) SkeletonArtifact {
	return SkeletonArtifact{
		AllFA:        l.StatsImage("all_FA"),
		MeanFA:       l.StatsImage("mean_FA"),
		Skeleton:     l.StatsImage("mean_FA_skeleton"),
		Mask:         l.StatsImage("mean_FA_skeleton_mask"),
		DistanceMap:  l.StatsImage("mean_FA_skeleton_mask_dst"),
		Skeletonised: l.StatsImage("all_FA_skeletonised"),
	}
}

// step is a protocol stage with the metric it concerns.
type step struct {
	stage.Stage
	metric  metric.Kind
	compare bool
}

func (o *Orchestrator) protocol(run *Result) []step {
	l := o.layout
	root := l.Root()
	sk := skeletonArtifact(l)
	tk := o.opts.Toolkit

	faInputs, listErr := l.ListStaged(metric.FA)
	preprocArgs := make([]string, len(faInputs))
	for i, p := range faInputs {
		preprocArgs[i] = filepath.Base(p)
	}

	var registerOutputs []string
	if o.opts.Registration != "n" {
		for _, key := range o.cohort.Keys() {
			registerOutputs = append(registerOutputs, filepath.Join(l.FADir(), key+"_FA_to_target_warp"+l.Ext()))
		}
	}

	orderingCheckpoint := &stage.Checkpoint{
		Name:     CheckpointOrdering,
		Prompt:   "Are all controls listed before the patients, with the expected counts?",
		Artifact: l.FADir(),
	}

	steps := []step{
		{Stage: stage.Stage{
			Name: StagePreprocess,
			Native: func(ctx context.Context) error {
				if listErr != nil {
					return fmt.Errorf("list staged FA volumes: %w", listErr)
				}
				return o.checkStaged(ctx)
			},
			Command: &stage.Command{Binary: tk.Preproc, Args: preprocArgs, Dir: root},
			Outputs: []string{l.SlicesdirIndex()},
			Checkpoint: &stage.Checkpoint{
				Name:     CheckpointPreRegistration,
				Prompt:   "Have you checked every subject on the slicesdir page?",
				Artifact: l.SlicesdirIndex(),
				Hint:     "Open the page in a web browser and confirm each FA image looks like a brain with no gross artefacts.",
			},
		}, metric: metric.FA},
		{Stage: stage.Stage{
			Name:      StageRegister,
			DependsOn: []string{StagePreprocess},
			Command:   &stage.Command{Binary: tk.Register, Args: o.opts.registrationArgs(), Dir: root},
			Outputs:   registerOutputs,
		}, metric: metric.FA},
		{Stage: stage.Stage{
			Name:      StageSkeletonize,
			DependsOn: []string{StageRegister},
			Command:   &stage.Command{Binary: tk.PostReg, Args: o.opts.skeletonArgs(), Dir: root},
			Outputs:   []string{sk.AllFA, sk.MeanFA, sk.Skeleton},
			Checkpoint: &stage.Checkpoint{
				Name:     CheckpointSkeleton,
				Prompt:   "Does the skeleton follow the centre of the white matter tracts for every subject?",
				Artifact: sk.Skeleton,
				Hint: fmt.Sprintf("View it with: fsleyes %s -dr 0 0.8 %s -dr %s 0.8 -cm green",
					sk.AllFA, sk.Skeleton, formatThreshold(o.opts.Threshold)),
			},
		}, metric: metric.FA},
		{Stage: stage.Stage{
			Name:      StageProjectFA,
			DependsOn: []string{StageSkeletonize},
			Command:   &stage.Command{Binary: tk.PreStats, Args: []string{formatThreshold(o.opts.Threshold)}, Dir: root},
			Outputs:   []string{sk.Skeletonised, sk.Mask, sk.DistanceMap},
		}, metric: metric.FA},
		{Stage: stage.Stage{
			Name:       StageVerifyOrder,
			DependsOn:  []string{StageProjectFA},
			Native:     func(ctx context.Context) error { return o.verifyOrder(ctx, orderingCheckpoint) },
			Checkpoint: orderingCheckpoint,
		}, metric: metric.FA},
		o.compareStep(run, metric.FA, []string{StageVerifyOrder}),
	}

	for _, kind := range o.opts.Metrics()[1:] {
		steps = append(steps,
			step{Stage: stage.Stage{
				Name:      ProjectStage(kind),
				DependsOn: []string{StageSkeletonize, CompareStage(metric.FA)},
				Command:   &stage.Command{Binary: tk.NonFA, Args: []string{kind.String()}, Dir: root},
				Outputs:   []string{l.StatsImage("all_" + kind.String() + "_skeletonised")},
			}, metric: kind},
			o.compareStep(run, kind, []string{ProjectStage(kind)}),
		)
	}
	return steps
}

func (o *Orchestrator) compareStep(run *Result, kind metric.Kind, dependsOn []string) step {
	l := o.layout
	name := kind.String()
	prefix := "stats/tbss_" + name
	args := []string{
		"-i", "stats/all_" + name + "_skeletonised" + l.Ext(),
		"-o", prefix,
		"-m", "stats/mean_FA_skeleton_mask",
		"-d", "stats/design_" + name + ".mat",
		"-t", "stats/design_" + name + ".con",
		"-n", strconv.Itoa(o.opts.Permutations),
	}
	if o.opts.TFCE {
		args = append(args, "--T2")
	} else {
		args = append(args, "-x")
	}
	return step{
		Stage: stage.Stage{
			Name:      CompareStage(kind),
			DependsOn: dependsOn,
			Native:    func(ctx context.Context) error { return o.prepareComparison(ctx, run, kind) },
			Command:   &stage.Command{Binary: o.opts.Toolkit.Randomise, Args: args, Dir: l.Root()},
			Outputs:   o.comparisonOutputs(kind),
		},
		metric:  kind,
		compare: true,
	}
}

func (o *Orchestrator) comparisonOutputs(kind metric.Kind) []string {
	stem := "tbss_" + kind.String()
	suffixes := []string{"_tstat1", "_tstat2"}
	if o.opts.TFCE {
		suffixes = append(suffixes, "_tfce_corrp_tstat1", "_tfce_corrp_tstat2")
	} else {
		suffixes = append(suffixes, "_vox_corrp_tstat1", "_vox_corrp_tstat2")
	}
	out := make([]string, len(suffixes))
	for i, s := range suffixes {
		out[i] = o.layout.StatsImage(stem + s)
	}
	return out
}

// checkStaged refuses to start unless every selected dataset is staged and
// the cohort can yield a meaningful comparison.
func (o *Orchestrator) checkStaged(context.Context) error {
	if err := o.cohort.VerifyOrdering(); err != nil {
		return err
	}
	controls, patients := o.cohort.Counts()
	if err := design.Resolvable(controls, patients, o.opts.Alpha); err != nil {
		return &cohort.Error{Source: o.cohort.Source, Reason: err.Error()}
	}
	return staging.VerifyStaged(o.layout, o.cohort, o.opts.Metrics())
}

func (o *Orchestrator) verifyOrder(_ context.Context, cp *stage.Checkpoint) error {
	if err := o.cohort.VerifyOrdering(); err != nil {
		return err
	}
	listing, err := o.layout.ListPreprocessed()
	if err != nil {
		return err
	}
	if err := cohort.VerifyListing("FA/ listing", listing); err != nil {
		return err
	}
	controls, patients := o.cohort.Counts()
	m, err := design.Build(controls, patients)
	if err != nil {
		return &cohort.Error{Source: o.cohort.Source, Reason: err.Error()}
	}
	if err := m.Validate(metric.FA, len(listing)); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Expecting %d controls followed by %d patients:\n", controls, patients)
	for i, p := range listing {
		fmt.Fprintf(&b, "  %3d  %s\n", i+1, filepath.Base(p))
	}
	cp.Hint = strings.TrimRight(b.String(), "\n")
	return nil
}

func (o *Orchestrator) comparisonListing(kind metric.Kind) ([]string, error) {
	if kind.Primary() {
		return o.layout.ListPreprocessed()
	}
	return o.layout.ListStaged(kind)
}

func formatThreshold(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
