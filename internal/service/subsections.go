package service

import (
	"context"

	"github.com/courseops/gradebook-api/internal/models"
	"github.com/courseops/gradebook-api/internal/repository"
)

// Column prefixes attached to every resolved subsection's short id.
var (
	gradeColumnPrefixes        = []string{"name", "grade", "original_grade", "previous_override", "new_override"}
	interventionColumnPrefixes = []string{"name", "grade"}
)

// ResolvedSubsection is one graded subsection addressed by its short id.
type ResolvedSubsection struct {
	ShortID        string
	Location       string
	DisplayName    string
	AssignmentType string
}

// SubsectionSet is an ordered short-id mapping of a course's graded
// subsections. Short ids are truncated block hashes; when two subsections
// share a truncation the first one seen wins, so a short id is compact but
// not guaranteed unique.
type SubsectionSet struct {
	ordered []ResolvedSubsection
	byShort map[string]ResolvedSubsection
}

// Ordered returns the subsections in course order.
func (s *SubsectionSet) Ordered() []ResolvedSubsection {
	return s.ordered
}

// Get looks up a subsection by short id.
func (s *SubsectionSet) Get(shortID string) (ResolvedSubsection, bool) {
	subsection, ok := s.byShort[shortID]
	return subsection, ok
}

// Len reports how many subsections resolved.
func (s *SubsectionSet) Len() int {
	return len(s.ordered)
}

// ColumnNames derives CSV column names as the product of short ids and
// prefixes, e.g. "previous_override-85bb02db".
func (s *SubsectionSet) ColumnNames(prefixes []string) []string {
	names := make([]string, 0, len(s.ordered)*len(prefixes))
	for _, subsection := range s.ordered {
		for _, prefix := range prefixes {
			names = append(names, prefix+"-"+subsection.ShortID)
		}
	}
	return names
}

// SubsectionResolver enumerates graded subsections for a course, optionally
// filtered to a single subsection or assignment type. Filtered-out
// subsections are excluded from the column set entirely, not just hidden.
type SubsectionResolver struct {
	grades repository.GradeRepository
}

// NewSubsectionResolver constructs a resolver over the grade repository.
func NewSubsectionResolver(grades repository.GradeRepository) *SubsectionResolver {
	return &SubsectionResolver{grades: grades}
}

// Resolve builds the short-id set for a course. filterSubsection is a full
// block location; filterAssignmentType matches the subsection's type tag.
func (r *SubsectionResolver) Resolve(ctx context.Context, courseID, filterSubsection, filterAssignmentType string) (*SubsectionSet, error) {
	subsections, err := r.grades.ListGradedSubsections(ctx, courseID)
	if err != nil {
		return nil, err
	}

	filterHash := ""
	if filterSubsection != "" {
		filterHash = models.BlockHash(filterSubsection)
	}

	set := &SubsectionSet{byShort: make(map[string]ResolvedSubsection)}
	for _, subsection := range subsections {
		if filterHash != "" && models.BlockHash(subsection.Location) != filterHash {
			continue
		}
		if filterAssignmentType != "" && subsection.AssignmentType != filterAssignmentType {
			continue
		}
		shortID := models.ShortBlockID(subsection.Location)
		if _, seen := set.byShort[shortID]; seen {
			continue
		}
		resolved := ResolvedSubsection{
			ShortID:        shortID,
			Location:       subsection.Location,
			DisplayName:    subsection.DisplayName,
			AssignmentType: subsection.AssignmentType,
		}
		set.byShort[shortID] = resolved
		set.ordered = append(set.ordered, resolved)
	}
	return set, nil
}

// appendColumns adds new column names to columns unless already present,
// preserving first-seen order. Processors rebuilt from serialized operations
// would otherwise accumulate duplicate columns.
func appendColumns(columns []string, newColumns []string) []string {
	present := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		present[column] = struct{}{}
	}
	for _, column := range newColumns {
		if _, ok := present[column]; ok {
			continue
		}
		present[column] = struct{}{}
		columns = append(columns, column)
	}
	return columns
}
