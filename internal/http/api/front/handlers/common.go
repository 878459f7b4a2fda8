// Package handlers implements the front-end API endpoints.
package handlers

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lexiflow/lexiflow-server/internal/models"
)

// getUserID extracts the authenticated user ID from gin context.
func getUserID(c *gin.Context) uint64 {
	val, exists := c.Get("userID")
	if !exists {
		return 0
	}
	id, ok := val.(uint64)
	if !ok {
		return 0
	}
	return id
}

// loadUser fetches the authenticated user's row.
func loadUser(ctx context.Context, db *gorm.DB, userID uint64) (*models.User, bool, error) {
	var user models.User
	if errFind := db.WithContext(ctx).First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, errFind
	}
	return &user, true, nil
}
