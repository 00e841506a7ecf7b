package middleware

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mindscreen/utils"
)

// RequestIDHeader carries the request ID set by Logger.
const RequestIDHeader = "X-Request-ID"

// Logger is a Gin middleware for logging HTTP requests and responses.
// It reuses an incoming X-Request-ID or assigns a new one.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = utils.GenerateID()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set(RequestIDHeader, requestID)

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		errorsStr := c.Errors.ByType(gin.ErrorTypePrivate).String()
		if errorsStr == "" {
			errorsStr = "None"
		}

		level := "INFO"
		switch {
		case statusCode >= http.StatusInternalServerError:
			level = "ERROR"
		case statusCode >= http.StatusBadRequest:
			level = "WARN"
		}
		log.Printf("%s: [HTTP] %s | %3d | %13v | %15s | %-7s %s | Errors: %s",
			level,
			requestID,
			statusCode,
			latency,
			c.ClientIP(),
			c.Request.Method,
			c.Request.RequestURI,
			errorsStr,
		)
	}
}

// Cors is a Gin middleware for enabling Cross-Origin Resource Sharing (CORS).
// It allows requests from any origin.
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Content-Disposition")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
