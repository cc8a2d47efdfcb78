package domain

import (
	"errors"
	"strings"
	"time"
)

// DefaultVersionTitle is used when a version lookup omits the title.
const DefaultVersionTitle = "1.0.0"

// Analysis is a named category of computation.
type Analysis struct {
	ID          string
	Title       string
	Description string
	Category    string
	CreatedAt   time.Time
}

// AnalysisVersion binds input and output specifications to an execution entry point.
type AnalysisVersion struct {
	ID                    string
	AnalysisID            string
	Title                 string
	Description           string
	InputSpecificationID  string
	OutputSpecificationID string
	EntryPoint            string
	CreatedAt             time.Time
}

func (a Analysis) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("analysis id is required")
	}
	if strings.TrimSpace(a.Title) == "" {
		return errors.New("analysis title is required")
	}
	return nil
}

func (v AnalysisVersion) Validate() error {
	if strings.TrimSpace(v.ID) == "" {
		return errors.New("version id is required")
	}
	if strings.TrimSpace(v.AnalysisID) == "" {
		return errors.New("analysis id is required")
	}
	if strings.TrimSpace(v.Title) == "" {
		return errors.New("version title is required")
	}
	if strings.TrimSpace(v.InputSpecificationID) == "" {
		return errors.New("input specification id is required")
	}
	if strings.TrimSpace(v.OutputSpecificationID) == "" {
		return errors.New("output specification id is required")
	}
	if strings.TrimSpace(v.EntryPoint) == "" {
		return errors.New("entry point is required")
	}
	return nil
}

// VersionTitle returns title or the default version title when blank.
func VersionTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return DefaultVersionTitle
	}
	return title
}
