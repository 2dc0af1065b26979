package roster

import (
	"context"
	"fmt"
)

// CountActiveEnrollments counts live enrollments of a student
func (s *Store) CountActiveEnrollments(ctx context.Context, studentID int64) (int64, error) {
	var n int64
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM enrollments WHERE student_id = $1 AND deleted_at IS NULL", studentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count enrollments: %w", err)
	}
	return n, nil
}
