package dto

// GradeExportQuery mirrors the query arguments of the grade CSV endpoints.
// Numeric filters arrive as strings so a blank value can mean "no filter".
type GradeExportQuery struct {
	Track               string `query:"track"`
	Cohort              string `query:"cohort"`
	Assignment          string `query:"assignment"`
	AssignmentType      string `query:"assignmentType"`
	AssignmentGradeMin  string `query:"assignmentGradeMin"`
	AssignmentGradeMax  string `query:"assignmentGradeMax"`
	CourseGradeMin      string `query:"courseGradeMin"`
	CourseGradeMax      string `query:"courseGradeMax"`
	ExcludedCourseRoles string `query:"excludedCourseRoles"`
	// ErrorID selects a prior operation's error report instead of a live export.
	ErrorID string `query:"error_id"`
}

// InterventionExportQuery mirrors the query arguments of the intervention
// export. Track is fixed to masters and therefore absent.
type InterventionExportQuery struct {
	Cohort             string `query:"cohort"`
	Assignment         string `query:"assignment"`
	AssignmentType     string `query:"assignmentType"`
	AssignmentGradeMin string `query:"assignmentGradeMin"`
	AssignmentGradeMax string `query:"assignmentGradeMax"`
	CourseGradeMin     string `query:"courseGradeMin"`
	CourseGradeMax     string `query:"courseGradeMax"`
}

// ScoreExportQuery mirrors the query arguments of the score CSV endpoints.
// The block id itself comes from the route path.
type ScoreExportQuery struct {
	Track       string `query:"track"`
	Cohort      string `query:"cohort"`
	DisplayName string `query:"displayName"`
	MaxPoints   string `query:"maxPoints"`
	HandleUndo  bool   `query:"handleUndo"`
}

// OperationHistoryEntry is one committed import in a course's history.
type OperationHistoryEntry struct {
	ID        string                 `json:"id"`
	UserID    *uint                  `json:"user_id,omitempty"`
	Timestamp string                 `json:"timestamp"`
	RowCount  int                    `json:"rows"`
	Saved     int                    `json:"saved"`
	Summary   string                 `json:"summary"`
	Config    map[string]interface{} `json:"config,omitempty"`
}
