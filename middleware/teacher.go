package middleware

import (
	"net/http"
	"strings"

	"lesson-content-engine/utils"

	"github.com/gin-gonic/gin"
)

// TeacherIDHeader carries the tenant. Authentication happens upstream.
const TeacherIDHeader = "X-Teacher-ID"

// RequireTeacher rejects requests without a teacher ID and stores it in the context
func RequireTeacher() gin.HandlerFunc {
	return func(c *gin.Context) {
		teacherID := strings.TrimSpace(c.GetHeader(TeacherIDHeader))
		if teacherID == "" {
			utils.RespondWithError(c, http.StatusUnauthorized, "missing_teacher",
				"X-Teacher-ID header is required", nil)
			c.Abort()
			return
		}
		c.Set("teacher_id", teacherID)
		c.Next()
	}
}

func GetTeacherID(c *gin.Context) string {
	return c.GetString("teacher_id")
}
