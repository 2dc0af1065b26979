//go:build integration

package roster

import (
	"context"
	"sync"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sms/pkg/audit"
	"github.com/platinummonkey/sms/pkg/migrate/migratetest"
)

func TestConcurrentEnrollPostgres(t *testing.T) {
	db := migratetest.NewPostgresDB(t)
	logger, _ := logtest.NewNullLogger()
	auditSvc := audit.NewService(db, nil)
	svc := NewService(db, nil, auditSvc, logger)
	ctx := context.Background()

	st, err := svc.CreateStudent(ctx, CreateStudentRequest{StudentID: "S1", FirstName: "A", LastName: "B"})
	require.NoError(t, err)
	c, err := svc.CreateCourse(ctx, CreateCourseRequest{CourseCode: "CS101", CourseName: "Algorithms"})
	require.NoError(t, err)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[int64]bool{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, isNew, err := svc.Enroll(ctx, nil, st.ID, c.ID)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[e.ID] = true
			if isNew {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)

	logs, err := auditSvc.Store().Search(ctx, audit.SearchFilter{Resource: audit.ResourceEnrollment, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}
