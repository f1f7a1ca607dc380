package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response unified API response envelope
type Response struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

// Success writes a 200 response with data.
func Success(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: 0,
		Msg:  msg,
		Data: data,
	})
}

// Fail writes a 200 response carrying a business error.
func Fail(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: 1,
		Msg:  msg,
		Data: data,
	})
}

// Abort writes an HTTP error status with no body detail beyond the message.
func Abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, Response{
		Code: 1,
		Msg:  msg,
	})
}
