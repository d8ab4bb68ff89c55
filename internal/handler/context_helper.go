package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edusync/attendance-api/internal/middleware"
	"github.com/edusync/attendance-api/internal/models"
	appErrors "github.com/edusync/attendance-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func schoolFromContext(c *gin.Context) *models.School {
	value, exists := c.Get(middleware.ContextSchoolKey)
	if !exists {
		return nil
	}
	school, ok := value.(*models.School)
	if !ok {
		return nil
	}
	return school
}

func parseQueryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}

func parseDateParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD")
	}
	return &parsed, nil
}
