package handlers

import (
	"net/http"

	"tably/database"
	"tably/utils"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports liveness of the service and its backing stores.
func HealthHandler(c *gin.Context) {
	ctx := c.Request.Context()

	mongoOK := database.MongoClient != nil && database.MongoClient.Ping(ctx, nil) == nil
	redisOK := utils.GetCacheClient() != nil && utils.GetCacheClient().Ping(ctx).Err() == nil

	status := http.StatusOK
	overall := "ok"
	if !mongoOK || !redisOK {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{
		"status": overall,
		"mongo":  mongoOK,
		"redis":  redisOK,
	})
}
