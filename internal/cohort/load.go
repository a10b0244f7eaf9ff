package cohort

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type sourceDefaults struct {
	ControlDir     string `toml:"control_dir" yaml:"control_dir"`
	ControlPattern string `toml:"control_pattern" yaml:"control_pattern"`
	PatientDir     string `toml:"patient_dir" yaml:"patient_dir"`
	PatientPattern string `toml:"patient_pattern" yaml:"patient_pattern"`
}

type subjectEntry struct {
	Role        string `toml:"role" yaml:"role"`
	Project     string `toml:"project" yaml:"project"`
	Participant string `toml:"participant" yaml:"participant"`
	Dir         string `toml:"dir" yaml:"dir"`
	Pattern     string `toml:"pattern" yaml:"pattern"`
}

// definition is the on-disk cohort shape. Either controls/patients or an
// explicitly ordered subjects list (each entry carrying a role) is accepted.
type definition struct {
	Source   sourceDefaults `toml:"source" yaml:"source"`
	Controls []subjectEntry `toml:"controls" yaml:"controls"`
	Patients []subjectEntry `toml:"patients" yaml:"patients"`
	Subjects []subjectEntry `toml:"subjects" yaml:"subjects"`
}

// Load reads a cohort definition from a .toml, .yaml or .yml file. Relative
// source directories resolve against the file's directory.
func Load(path string) (*Cohort, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cohort file: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve cohort file: %w", err)
	}

	var def definition
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		decoder := toml.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		err = decoder.Decode(&def)
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err = decoder.Decode(&def); errors.Is(err, io.EOF) {
			err = nil
		}
	default:
		return nil, &Error{Source: abs, Reason: fmt.Sprintf("unsupported cohort file extension %q (want .toml, .yaml or .yml)", ext)}
	}
	if err != nil {
		return nil, &Error{Source: abs, Reason: fmt.Sprintf("parse: %v", err)}
	}

	c, err := def.build(filepath.Dir(abs))
	if err != nil {
		var cohortErr *Error
		if errors.As(err, &cohortErr) {
			cohortErr.Source = abs
			return nil, cohortErr
		}
		return nil, &Error{Source: abs, Reason: err.Error()}
	}
	c.Source = abs
	return c, nil
}

func (d definition) build(baseDir string) (*Cohort, error) {
	if len(d.Subjects) > 0 && (len(d.Controls) > 0 || len(d.Patients) > 0) {
		return nil, errors.New("use either [[subjects]] or [[controls]]/[[patients]], not both")
	}

	var specs []SubjectSpec
	add := func(role Role, entry subjectEntry) error {
		spec, err := d.spec(baseDir, role, entry)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
		return nil
	}

	if len(d.Subjects) > 0 {
		for i, entry := range d.Subjects {
			role, err := ParseRole(entry.Role)
			if err != nil {
				return nil, fmt.Errorf("subjects[%d]: %w", i, err)
			}
			if err := add(role, entry); err != nil {
				return nil, err
			}
		}
	} else {
		for _, entry := range d.Controls {
			if err := add(Control, entry); err != nil {
				return nil, err
			}
		}
		for _, entry := range d.Patients {
			if err := add(Patient, entry); err != nil {
				return nil, err
			}
		}
	}
	return New(specs...)
}

func (d definition) spec(baseDir string, role Role, entry subjectEntry) (SubjectSpec, error) {
	if entry.Role != "" {
		if declared, err := ParseRole(entry.Role); err != nil || declared != role {
			return SubjectSpec{}, fmt.Errorf("subject %q: role %q conflicts with its section", entry.Participant, entry.Role)
		}
	}
	dir, pattern := d.Source.ControlDir, d.Source.ControlPattern
	if role == Patient {
		dir, pattern = d.Source.PatientDir, d.Source.PatientPattern
	}
	if strings.TrimSpace(entry.Dir) != "" {
		dir = entry.Dir
	}
	if strings.TrimSpace(entry.Pattern) != "" {
		pattern = entry.Pattern
	}
	dir = strings.TrimSpace(dir)
	if dir != "" && !filepath.IsAbs(dir) {
		dir = filepath.Join(baseDir, dir)
	}
	return SubjectSpec{
		Subject: Subject{
			Role:          role,
			ProjectID:     strings.TrimSpace(entry.Project),
			ParticipantID: strings.TrimSpace(entry.Participant),
		},
		SourceDir: dir,
		Pattern:   strings.TrimSpace(pattern),
	}, nil
}
