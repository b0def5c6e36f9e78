package core

import "github.com/gin-gonic/gin"

// respondError sends unified error payload {"error": {"code", "message"}}.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// respondErrorDetail adds the underlying cause as "detail" when there is one.
func respondErrorDetail(c *gin.Context, status int, code, message, detail string) {
	body := gin.H{"code": code, "message": message}
	if detail != "" {
		body["detail"] = detail
	}
	c.JSON(status, gin.H{"error": body})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
