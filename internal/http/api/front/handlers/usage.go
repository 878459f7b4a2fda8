package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lexiflow/lexiflow-server/internal/models"
)

// UsageHandler exposes consumption statistics.
type UsageHandler struct {
	db *gorm.DB
}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler(db *gorm.DB) *UsageHandler {
	return &UsageHandler{db: db}
}

// typeCount is one aggregation bucket.
type typeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// Stats returns today's consumption per resource type.
func (h *UsageHandler) Stats(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var rows []typeCount
	if errQuery := h.db.WithContext(c.Request.Context()).
		Model(&models.UsageRecord{}).
		Select("type, COUNT(*) AS count").
		Where("user_id = ? AND used_at >= ?", userID, dayStart).
		Group("type").
		Scan(&rows).Error; errQuery != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	total := int64(0)
	byType := gin.H{}
	for _, row := range rows {
		byType[row.Type] = row.Count
		total += row.Count
	}
	c.JSON(http.StatusOK, gin.H{
		"date":    dayStart.Format("2006-01-02"),
		"total":   total,
		"by_type": byType,
	})
}

// dayTypeCount is one per-day aggregation bucket.
type dayTypeCount struct {
	Day   string `json:"day"`
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// Trend returns daily consumption totals for the last N days (default 7,
// capped at 90).
func (h *UsageHandler) Trend(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}

	days := 7
	if raw := c.Query("days"); raw != "" {
		if n, errAtoi := strconv.Atoi(raw); errAtoi == nil && n > 0 {
			days = n
		}
	}
	if days > 90 {
		days = 90
	}

	now := time.Now().UTC()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))

	var records []models.UsageRecord
	if errQuery := h.db.WithContext(c.Request.Context()).
		Where("user_id = ? AND used_at >= ?", userID, since).
		Order("used_at ASC").
		Find(&records).Error; errQuery != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	buckets := map[string]map[string]int64{}
	for _, record := range records {
		day := record.UsedAt.UTC().Format("2006-01-02")
		if buckets[day] == nil {
			buckets[day] = map[string]int64{}
		}
		buckets[day][record.Type]++
	}

	trend := make([]dayTypeCount, 0)
	for i := 0; i < days; i++ {
		day := since.AddDate(0, 0, i).Format("2006-01-02")
		for typ, count := range buckets[day] {
			trend = append(trend, dayTypeCount{Day: day, Type: typ, Count: count})
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"since": since.Format("2006-01-02"),
		"days":  days,
		"trend": trend,
	})
}
