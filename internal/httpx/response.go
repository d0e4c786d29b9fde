package httpx

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/ageniuscoder/mmchat/realtime/internal/utils"
)

func OK(c *gin.Context, v any) {
	c.JSON(http.StatusOK, v)
}

func Err(c *gin.Context, code int, msg any) {
	c.JSON(code, gin.H{"error": msg})
}

// BindErr answers a failed ShouldBind* with 400, listing field errors when
// the failure came from validation.
func BindErr(c *gin.Context, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		Err(c, http.StatusBadRequest, utils.ValidationErr(ve))
		return
	}
	Err(c, http.StatusBadRequest, err.Error())
}
