package middleware

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/edusync/attendance-api/internal/models"
	appErrors "github.com/edusync/attendance-api/pkg/errors"
	"github.com/edusync/attendance-api/pkg/response"
)

// ContextSchoolKey is the gin context key storing the resolved school.
const ContextSchoolKey = "currentSchool"

type deviceResolver interface {
	ResolveDevice(ctx context.Context, identifier, apiKey string) (*models.School, error)
}

// DeviceAuth authenticates capture devices: a school identifier (slug,
// external id, or id) in the X-School-Id header paired with the per-school
// API key. The resolved school, including its timezone and cutoff config,
// is attached to the request context.
func DeviceAuth(schools deviceResolver, apiKeyHeader string) gin.HandlerFunc {
	if apiKeyHeader == "" {
		apiKeyHeader = "X-Api-Key"
	}
	return func(c *gin.Context) {
		identifier := c.GetHeader("X-School-Id")
		apiKey := c.GetHeader(apiKeyHeader)
		if identifier == "" || apiKey == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "school identifier and api key are required"))
			c.Abort()
			return
		}

		school, err := schools.ResolveDevice(c.Request.Context(), identifier, apiKey)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				response.Error(c, appErrors.ErrUnknownSchool)
			} else {
				response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve school"))
			}
			c.Abort()
			return
		}

		c.Set(ContextSchoolKey, school)
		c.Next()
	}
}
