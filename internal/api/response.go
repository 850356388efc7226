package api

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"studyhub/internal/access"
	"studyhub/internal/api/middleware"
	"studyhub/internal/errcode"
	"studyhub/internal/store"
)

// errorBody 是所有错误响应的 JSON 结构。
type errorBody struct {
	Error   errcode.Code     `json:"error"`
	Message string           `json:"message"`
	Details []errcode.Detail `json:"details,omitempty"`
	Data    any              `json:"data,omitempty"`
}

// RespondError 将错误写为 JSON。业务错误按类别映射状态码，其余错误记录日志后统一返回 InternalError。
func RespondError(c *gin.Context, err error) {
	e, ok := errcode.From(err)
	if !ok {
		middleware.LoggerFromContext(c).Error("request failed", slog.Any("error", err))
		e = errcode.New(errcode.InternalError, "internal error")
	} else if e.Code == errcode.InternalError {
		middleware.LoggerFromContext(c).Error("request failed", slog.Any("error", err))
	}
	c.AbortWithStatusJSON(errcode.HTTPStatus(e.Code), errorBody{
		Error:   e.Code,
		Message: e.Message,
		Details: e.Details,
		Data:    e.Data,
	})
}

// BadRequest 返回 ValidationFailed。
func BadRequest(c *gin.Context, msg string, details ...errcode.Detail) {
	RespondError(c, errcode.New(errcode.ValidationFailed, msg).WithDetails(details...))
}

// bindJSON 解析请求体，失败时已写出响应。
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		RespondError(c, bindingError(err))
		return false
	}
	return true
}

// bindForm 解析 multipart/form 字段，失败时已写出响应。
func bindForm(c *gin.Context, req any) bool {
	if err := c.ShouldBind(req); err != nil {
		RespondError(c, bindingError(err))
		return false
	}
	return true
}

func bindingError(err error) *errcode.Error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errcode.New(errcode.ValidationFailed, "invalid request body")
	}
	details := make([]errcode.Detail, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, errcode.Detail{Field: lowerFirst(fe.Field()), Message: fieldMessage(fe)})
	}
	return errcode.New(errcode.ValidationFailed, "Validation failed").WithDetails(details...)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "is invalid"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func identity(c *gin.Context) access.Identity { return middleware.IdentityFromContext(c) }

// pathID 解析路由中的正整数 ID，失败时已写出响应。
func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		BadRequest(c, "invalid "+name, errcode.Detail{Field: name, Message: "must be a positive integer"})
		return 0, false
	}
	return uint(id), true
}

// pageFromQuery 读取 page/limit 参数。
func pageFromQuery(c *gin.Context, defaultLimit int) store.Page {
	number, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return store.NewPage(number, limit, defaultLimit)
}

type pagination struct {
	Current int   `json:"current"`
	Total   int64 `json:"total"`
	Count   int64 `json:"count"`
	Limit   int   `json:"limit"`
}

// newPagination 中 total 为总页数，count 为总条数。
func newPagination(page store.Page, count int64) pagination {
	return pagination{
		Current: page.Number,
		Total:   page.TotalPages(count),
		Count:   count,
		Limit:   page.Limit,
	}
}
