package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"
)

type codeErr struct {
	code uint32
	msg  string
}

func (e codeErr) Error() string {
	return e.msg
}

func (e codeErr) Code() uint32 {
	return e.code
}

func AsCodeErr(code uint32, msg string) error {
	return codeErr{code: code, msg: msg}
}

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

// Error writes a failure payload; status carries the bad-input/server-fault class.
func Error(c *gin.Context, status int, code int, message string) {
	if status <= 0 {
		status = http.StatusOK
	}
	proxyutil.FailJson(c, status, AsCodeErr(uint32(code), message))
}
