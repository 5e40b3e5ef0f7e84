package handler_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/courseops/gradebook-api/internal/models"
	"github.com/courseops/gradebook-api/pkg/analytics"
)

type stubEngagement struct {
	learners []analytics.LearnerEngagement
}

func (s *stubEngagement) CourseEngagement(_ context.Context, _ string) ([]analytics.LearnerEngagement, error) {
	return s.learners, nil
}

func seedScoreData(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&models.User{
		ID: 1, Username: "alice", FullName: "Alice A", Email: "alice@example.com",
	}).Error)
	require.NoError(t, db.Create(&models.Enrollment{
		CourseID: testCourseID, UserID: 1, Mode: models.TrackAudit, IsActive: true,
	}).Error)
}

func TestScoreCSVExport(t *testing.T) {
	env := setupEnv(t)
	seedScoreData(t, env.db)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/blocks/"+testBlockID+"/scores/csv?displayName=Problem+1&maxPoints=10", nil)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "text/csv", resp.Header.Get(fiber.HeaderContentType))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "csum")
	require.Contains(t, lines[1], "alice")
	require.Contains(t, lines[1], "Problem 1")
}

func TestScoreCSVImportRoundTrip(t *testing.T) {
	env := setupEnv(t)
	seedScoreData(t, env.db)

	csum := env.signer.Checksum("1", testBlockID, "")
	csv := fmt.Sprintf("user_id,block_id,csum,Previous Points,New Points\n1,%s,%s,,7\n", testBlockID, csum)
	body, contentType := multipartCSV(t, csv)

	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/blocks/"+testBlockID+"/scores/csv?maxPoints=10", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	status := decodeStatus(t, resp)
	require.Equal(t, 1, status.Saved)
	require.Empty(t, status.ErrorRows)

	var score models.BlockScore
	require.NoError(t, env.db.First(&score).Error)
	require.Equal(t, 7.0, score.Score)
	require.Equal(t, uint(1), score.StudentID)
}

func TestScoreCSVImportChecksumMismatch(t *testing.T) {
	env := setupEnv(t)
	seedScoreData(t, env.db)

	csv := fmt.Sprintf("user_id,block_id,csum,Previous Points,New Points\n1,%s,deadbeef,,7\n", testBlockID)
	body, contentType := multipartCSV(t, csv)

	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/blocks/"+testBlockID+"/scores/csv?maxPoints=10", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	status := decodeStatus(t, resp)
	require.Zero(t, status.Saved)
	require.Equal(t, []int{1}, status.ErrorRows)
	require.Contains(t, status.ErrorMessages[0], "Checksum mismatch")
}

func TestScoreCSVImportMissingColumnsRejected(t *testing.T) {
	env := setupEnv(t)
	seedScoreData(t, env.db)

	body, contentType := multipartCSV(t, "user_id,New Points\n1,7\n")
	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/blocks/"+testBlockID+"/scores/csv?maxPoints=10", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestInterventionCSVExport(t *testing.T) {
	env := setupEnv(t)
	require.NoError(t, env.db.Create(&models.User{
		ID: 2, Username: "bob", FullName: "Bob B", Email: "bob@example.com",
	}).Error)
	require.NoError(t, env.db.Create(&models.Enrollment{
		CourseID: testCourseID, UserID: 2, Mode: models.TrackMasters, IsActive: true,
	}).Error)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/courses/"+testCourseID+"/intervention/csv", nil)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "number of videos overall")
	require.Contains(t, lines[1], "bob")
}
