package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/courseops/gradebook-api/internal/csvops"
	"github.com/courseops/gradebook-api/internal/handler"
	"github.com/courseops/gradebook-api/internal/models"
	"github.com/courseops/gradebook-api/internal/repository"
	"github.com/courseops/gradebook-api/internal/service"
)

const (
	testCourseID   = "course-v1:edX+Demo+2026"
	testSubsection = "block-v1:edX+Demo+2026+type@sequential+block@aaaa1111bbbb2222"
	testBlockID    = "block-v1:edX+Demo+2026+type@problem+block@abcdef1234567890"
)

type testEnv struct {
	app    *fiber.App
	db     *gorm.DB
	signer *csvops.Signer
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.CourseAccessRole{},
		&models.Enrollment{}, &models.CohortMembership{}, &models.ProgramEnrollment{},
		&models.BlockScore{}, &models.ScoreOverrider{},
		&models.GradedSubsection{}, &models.SubsectionGrade{}, &models.SubsectionGradeOverride{},
		&models.CourseGrade{}, &models.BulkOperation{},
	))

	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})

	logger := zerolog.New(io.Discard)
	validate := validator.New(validator.WithRequiredStructEnabled())

	enrollments := repository.NewEnrollmentRepository(db)
	scores := repository.NewScoreRepository(db)
	grades := repository.NewGradeRepository(db)
	operations := repository.NewOperationRepository(db)

	signer := csvops.NewSigner("test-secret")
	results := csvops.NewResultStore(redisClient, time.Hour)
	runner := csvops.NewRunner(operations, results, csvops.RunnerConfig{}, logger)
	resolver := service.NewSubsectionResolver(grades)
	recompute := service.NewGradeRecomputePublisher(nil, logger)

	app := fiber.New()
	authed := func(c *fiber.Ctx) error {
		c.Locals("user_id", uint(42))
		return c.Next()
	}
	course := app.Group("/api/v1/courses/:course_id", authed)
	handler.NewGradeCSVHandler(enrollments, grades, operations, resolver, runner, validate, logger).Register(course)
	handler.NewInterventionHandler(enrollments, grades, resolver, &stubEngagement{}, validate, logger).Register(course)
	block := app.Group("/api/v1/blocks/:block_id", authed)
	handler.NewScoreCSVHandler(enrollments, scores, signer, recompute, runner, validate, logger).Register(block)

	return &testEnv{app: app, db: db, signer: signer}
}

func seedGradeData(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&models.GradedSubsection{
		CourseID: testCourseID, Location: testSubsection, DisplayName: "Unit 1",
		AssignmentType: "Homework", Position: 1,
	}).Error)
	require.NoError(t, db.Create(&models.User{
		ID: 1, Username: "alice", FullName: "Alice A", Email: "alice@example.com",
	}).Error)
	require.NoError(t, db.Create(&models.Enrollment{
		CourseID: testCourseID, UserID: 1, Mode: models.TrackAudit, IsActive: true,
	}).Error)
	require.NoError(t, db.Create(&models.SubsectionGrade{
		UserID: 1, CourseID: testCourseID, Location: testSubsection,
		EarnedGraded: 3, PossibleGraded: 10,
	}).Error)
}

func multipartCSV(t *testing.T, content string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("csv", "upload.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &body, writer.FormDataContentType()
}

func decodeStatus(t *testing.T, resp *http.Response) csvops.Status {
	t.Helper()
	var status csvops.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	return status
}

func TestGradeCSVExport(t *testing.T) {
	env := setupEnv(t)
	seedGradeData(t, env.db)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/courses/"+testCourseID+"/grades/csv", nil)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "text/csv", resp.Header.Get(fiber.HeaderContentType))
	require.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), "attachment")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "user_id,username,student_key,course_id,track,cohort,"+
		"name-aaaa1111,grade-aaaa1111,original_grade-aaaa1111,previous_override-aaaa1111,new_override-aaaa1111",
		lines[0])
	require.Contains(t, lines[1], "alice")
}

func TestGradeCSVImportAppliesOverrides(t *testing.T) {
	env := setupEnv(t)
	seedGradeData(t, env.db)

	csv := fmt.Sprintf("user_id,course_id,new_override-aaaa1111\n1,%s,8\n", testCourseID)
	body, contentType := multipartCSV(t, csv)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/courses/"+testCourseID+"/grades/csv", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	status := decodeStatus(t, resp)
	require.Equal(t, 1, status.Saved)
	require.Equal(t, 1, status.Total)
	require.Empty(t, status.ErrorRows)

	var override models.SubsectionGradeOverride
	require.NoError(t, env.db.First(&override).Error)
	require.Equal(t, 8.0, override.EarnedGradedOverride)
	require.NotNil(t, override.OverriderID)
	require.Equal(t, uint(42), *override.OverriderID)
}

func TestGradeCSVImportCollectsRowErrors(t *testing.T) {
	env := setupEnv(t)
	seedGradeData(t, env.db)

	csv := fmt.Sprintf("user_id,course_id,new_override-aaaa1111\n1,%s,nope\n", testCourseID)
	body, contentType := multipartCSV(t, csv)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/courses/"+testCourseID+"/grades/csv", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	status := decodeStatus(t, resp)
	require.Zero(t, status.Saved)
	require.Equal(t, []int{1}, status.ErrorRows)
	require.Equal(t, []string{"Grade must be a number"}, status.ErrorMessages)
}

func TestGradeCSVImportRejectsMissingFile(t *testing.T) {
	env := setupEnv(t)
	seedGradeData(t, env.db)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/courses/"+testCourseID+"/grades/csv", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestGradeCSVHistoryAndErrorReport(t *testing.T) {
	env := setupEnv(t)
	seedGradeData(t, env.db)

	csv := fmt.Sprintf("user_id,course_id,new_override-aaaa1111\n1,%s,8\n2,%s,bad\n", testCourseID, testCourseID)
	body, contentType := multipartCSV(t, csv)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/courses/"+testCourseID+"/grades/csv", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	status := decodeStatus(t, resp)
	require.NotEmpty(t, status.ResultID)

	// history lists the committed run
	req = httptest.NewRequest(http.MethodGet, "/api/v1/courses/"+testCourseID+"/grades/history", nil)
	resp, err = env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var entries []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	require.Equal(t, status.ResultID, entries[0]["id"])
	require.Equal(t, "1 of 2 saved", entries[0]["summary"])

	// the error report re-export carries row statuses
	req = httptest.NewRequest(http.MethodGet,
		"/api/v1/courses/"+testCourseID+"/grades/csv?error_id="+status.ResultID, nil)
	resp, err = env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	report, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(report), "status")
	require.Contains(t, string(report), "Grade must be a number")
}

func TestGradeCSVErrorReportWrongCourseForbidden(t *testing.T) {
	env := setupEnv(t)
	seedGradeData(t, env.db)

	csv := fmt.Sprintf("user_id,course_id,new_override-aaaa1111\n1,%s,8\n", testCourseID)
	body, contentType := multipartCSV(t, csv)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/courses/"+testCourseID+"/grades/csv", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	status := decodeStatus(t, resp)

	req = httptest.NewRequest(http.MethodGet,
		"/api/v1/courses/course-v1:edX+Other+2026/grades/csv?error_id="+status.ResultID, nil)
	resp, err = env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestGradeCSVPollUnknownResult(t *testing.T) {
	env := setupEnv(t)

	form := strings.NewReader("result_id=does-not-exist")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/courses/"+testCourseID+"/grades/csv", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	status := decodeStatus(t, resp)
	require.True(t, status.Waiting)
}
