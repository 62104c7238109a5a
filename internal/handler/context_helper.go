package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/batch-scheduler-api/internal/middleware"
	"github.com/noah-isme/batch-scheduler-api/internal/models"
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

// actorFromContext builds the acting user from JWT claims. Role gating past
// this point works off the claims; handlers that need the full record go
// through the auth service.
func actorFromContext(c *gin.Context) *models.User {
	claims := claimsFromContext(c)
	if claims == nil {
		return nil
	}
	return &models.User{
		ID:       claims.UserID,
		Email:    claims.Email,
		FullName: claims.FullName,
		Role:     claims.Role,
	}
}
