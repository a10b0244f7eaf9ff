package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tbssrun/internal/cohort"
	"tbssrun/internal/config"
	"tbssrun/internal/failure"
	"tbssrun/internal/metric"
	"tbssrun/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	cohortPath string
	cohort     *cohort.Cohort
}

func setupCLITestEnv(t *testing.T, controls, patients int) *cliTestEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	cfg := testsupport.NewConfig(t, testsupport.WithSecondaryMetrics("MD"))
	base := testsupport.BaseDir(cfg)
	co := testsupport.NewCohort(t, filepath.Join(base, "src"), controls, patients)
	cohortPath := testsupport.WriteCohortFile(t, base, co)
	cfg.Cohort.File = cohortPath

	data, err := cfg.Encode()
	require.NoError(t, err)
	configPath := filepath.Join(base, "tbssrun.toml")
	require.NoError(t, os.WriteFile(configPath, data, 0o644))

	return &cliTestEnv{cfg: cfg, configPath: configPath, cohortPath: cohortPath, cohort: co}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestStageCohortStagesAndRecordsRun(t *testing.T) {
	env := setupCLITestEnv(t, 3, 2)

	out, err := env.run(t, "stage-cohort")
	require.NoError(t, err, out)
	assert.Contains(t, out, "staged 5 subjects")
	assert.Contains(t, out, "CON_ControlProject1_C01.nii.gz")
	assert.Contains(t, out, "PAT_P02.nii.gz")

	for _, name := range []string{"CON_ControlProject1_C03.nii.gz", filepath.Join("MD", "PAT_P01.nii.gz")} {
		_, statErr := os.Stat(filepath.Join(env.cfg.Paths.Root, name))
		assert.NoError(t, statErr, name)
	}
	_, statErr := os.Stat(filepath.Join(env.cfg.Paths.Root, "RD"))
	assert.True(t, os.IsNotExist(statErr), "RD was not selected and must not be staged")

	out, err = env.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "stage-cohort")
	assert.Contains(t, out, "Completed")
	assert.Contains(t, out, "3/2")
}

func TestStageCohortMetricsFlag(t *testing.T) {
	env := setupCLITestEnv(t, 2, 2)

	out, err := env.run(t, "stage-cohort", "--metrics", "rd")
	require.NoError(t, err, out)
	_, statErr := os.Stat(filepath.Join(env.cfg.Paths.Root, "RD", "PAT_P01.nii.gz"))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(env.cfg.Paths.Root, "PAT_P01.nii.gz"))
	assert.True(t, os.IsNotExist(statErr), "FA was not selected")
}

func TestStageCohortMissingSourceExitsWithStagingCode(t *testing.T) {
	env := setupCLITestEnv(t, 2, 2)
	require.NoError(t, os.Remove(env.cohort.Subjects[1].Glob("MD")))

	_, err := env.run(t, "stage-cohort")
	require.Error(t, err)
	assert.Equal(t, failure.ExitStaging, failure.ExitCode(err))

	out, err := env.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Failed")
}

func TestVerifyOrderAfterStaging(t *testing.T) {
	env := setupCLITestEnv(t, 3, 2)
	_, err := env.run(t, "stage-cohort")
	require.NoError(t, err)

	out, err := env.run(t, "verify-order")
	require.NoError(t, err, out)
	assert.Contains(t, out, "FA staged listing")
	assert.Contains(t, out, "Order verified: 3 controls followed by 2 patients")

	out, err = env.run(t, "verify-order", "--metric", "md")
	require.NoError(t, err, out)
	assert.Contains(t, out, "MD staged listing")
}

func TestVerifyOrderDetectsMismatch(t *testing.T) {
	env := setupCLITestEnv(t, 3, 2)
	_, err := env.run(t, "stage-cohort")
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(env.cfg.Paths.Root, "MD", "PAT_P01.nii.gz")))

	_, err = env.run(t, "verify-order", "--metric", "MD")
	require.Error(t, err)
	assert.Equal(t, failure.ExitMismatch, failure.ExitCode(err))
}

func TestVerifyOrderRejectsMisorderedCohort(t *testing.T) {
	env := setupCLITestEnv(t, 2, 1)
	path := filepath.Join(t.TempDir(), "cohort.yaml")
	yamlDef := "subjects:\n" +
		"  - role: patient\n    participant: P09\n    dir: /data/{participant}\n    pattern: \"{participant}_{suffix}.nii.gz\"\n" +
		"  - role: control\n    participant: C09\n    dir: /data/{participant}\n    pattern: \"{participant}_{suffix}.nii.gz\"\n"
	testsupport.WriteFile(t, path, []byte(yamlDef))

	_, err := env.run(t, "verify-order", "--cohort", path)
	require.Error(t, err)
	assert.Equal(t, failure.ExitOrdering, failure.ExitCode(err))
}

func TestDesignCommandWritesFiles(t *testing.T) {
	env := setupCLITestEnv(t, 2, 1)
	prefix := filepath.Join(t.TempDir(), "design")

	out, err := env.run(t, "design", "--controls", "20", "--patients", "1", "--permutations", "500", "--write", prefix)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Unique permutations")
	assert.Contains(t, out, "500 requested, only 21 unique")

	mat := testsupport.ReadFile(t, prefix+".mat")
	assert.Contains(t, string(mat), "/NumPoints\t21")
	con := testsupport.ReadFile(t, prefix+".con")
	assert.Contains(t, string(con), "/NumContrasts\t2")
}

func TestDesignCommandUsesCohortCounts(t *testing.T) {
	env := setupCLITestEnv(t, 3, 2)

	out, err := env.run(t, "design")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Unique permutations")
	assert.Contains(t, out, "10")
}

func TestRunPipelineDryRun(t *testing.T) {
	env := setupCLITestEnv(t, 3, 2)

	out, err := env.run(t, "run-pipeline", "--dry-run")
	require.NoError(t, err, out)
	for _, name := range []string{"preprocess", "register", "skeletonize-FA", "verify-order", "compare-FA", "project-MD", "compare-MD"} {
		assert.Contains(t, out, name)
	}
	assert.NotContains(t, out, "compare-RD")
	assert.Contains(t, out, "tbss_3_postreg -S")
}

func TestRunPipelineFailsPreflightWithoutToolkit(t *testing.T) {
	env := setupCLITestEnv(t, 20, 1)
	t.Setenv("PATH", t.TempDir())

	_, err := env.run(t, "run-pipeline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preflight")
	assert.Equal(t, failure.KindConfig, failure.KindOf(err))
}

func TestConfigInitAndShow(t *testing.T) {
	env := setupCLITestEnv(t, 2, 1)
	target := filepath.Join(t.TempDir(), "config.toml")

	out, err := env.run(t, "config", "init", "--path", target)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Wrote sample configuration")

	_, err = env.run(t, "config", "init", "--path", target)
	require.Error(t, err)

	out, err = env.run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "[pipeline]")
	assert.Contains(t, out, env.configPath)
}

func TestRootFlagOverridesConfig(t *testing.T) {
	env := setupCLITestEnv(t, 2, 2)
	root := filepath.Join(t.TempDir(), "elsewhere")

	out, err := env.run(t, "--root", root, "stage-cohort", "--metrics", metric.FA.String())
	require.NoError(t, err, out)
	_, statErr := os.Stat(filepath.Join(root, "PAT_P01.nii.gz"))
	assert.NoError(t, statErr)
}

func TestLogsShowsLatestRun(t *testing.T) {
	env := setupCLITestEnv(t, 2, 2)
	_, err := env.run(t, "stage-cohort")
	require.NoError(t, err)

	out, err := env.run(t, "logs")
	require.NoError(t, err, out)
	assert.Contains(t, out, "staging started")
	assert.Contains(t, out, "staging completed")

	out, err = env.run(t, "logs", "--level", "error")
	require.NoError(t, err)
	assert.NotContains(t, out, "staging started")
}

func TestRunPipelineDryRunOverrides(t *testing.T) {
	env := setupCLITestEnv(t, 3, 2)

	out, err := env.run(t, "run-pipeline", "--dry-run", "--metrics", "rd", "--skeleton", "t", "--registration", "n", "--permutations", "100")
	require.NoError(t, err, out)
	assert.Contains(t, out, "compare-RD")
	assert.NotContains(t, out, "compare-MD")
	assert.Contains(t, out, "tbss_3_postreg -T")
	assert.Contains(t, out, "tbss_2_reg -n")
	assert.Contains(t, out, "-n 100")

	_, err = env.run(t, "run-pipeline", "--dry-run", "--threshold", "1.5")
	require.Error(t, err)
}
