package config

const (
	defaultConfigPath        = "~/.config/tbssrun/config.toml"
	projectConfigName        = "tbssrun.toml"
	defaultRoot              = "."
	defaultLogDir            = "~/.local/share/tbssrun/logs"
	defaultStateDir          = "~/.local/share/tbssrun"
	defaultStagingWorkers    = 4
	defaultStagingExtension  = ".nii.gz"
	defaultRegistration      = "T"
	defaultSkeletonMode      = "S"
	defaultSkeletonThreshold = 0.2
	defaultPermutations      = 500
	defaultAlpha             = 0.05
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultLogRetentionDays  = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			Root:     defaultRoot,
			LogDir:   defaultLogDir,
			StateDir: defaultStateDir,
		},
		Staging: Staging{
			Workers:   defaultStagingWorkers,
			Extension: defaultStagingExtension,
		},
		Pipeline: Pipeline{
			Registration:      defaultRegistration,
			SkeletonMode:      defaultSkeletonMode,
			SkeletonThreshold: defaultSkeletonThreshold,
			Permutations:      defaultPermutations,
			TFCE:              true,
			Alpha:             defaultAlpha,
			SecondaryMetrics:  []string{"MD", "AD", "RD"},
		},
		Toolkit: Toolkit{
			Preproc:   "tbss_1_preproc",
			Register:  "tbss_2_reg",
			PostReg:   "tbss_3_postreg",
			PreStats:  "tbss_4_prestats",
			NonFA:     "tbss_non_FA",
			Randomise: "randomise",
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
