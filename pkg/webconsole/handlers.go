package webconsole

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lomehong/chatplot/pkg/health"
	"github.com/lomehong/chatplot/pkg/ingest"
	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/lomehong/chatplot/pkg/plugin/dispatch"
)

// operationInstantiate 实例化插件的伪操作
const operationInstantiate = "instantiate"

// operationBody 操作请求体
type operationBody struct {
	Payload json.RawMessage  `json:"payload"`
	Options api.Options      `json:"options"`
	Config  api.PluginConfig `json:"config"`
}

// errorBody 错误响应
type errorBody struct {
	Error     string        `json:"error"`
	Kind      api.ErrorKind `json:"kind"`
	CauseKind api.ErrorKind `json:"cause_kind,omitempty"`
}

// newErrorBody 根据错误分类构造错误响应
func newErrorBody(err error) errorBody {
	body := errorBody{Error: err.Error(), Kind: api.KindOf(err)}
	var execErr *api.PluginExecutionError
	if errors.As(err, &execErr) && execErr.Cause != nil {
		if kind := api.KindOf(execErr.Cause); kind != api.ErrorKindUnknown {
			body.CauseKind = kind
		}
	}
	return body
}

// statusOf 错误对应的HTTP状态码
func statusOf(err error) int {
	var reqErr *badRequestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ingest.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, api.ErrNotTrained):
		return http.StatusConflict
	}

	switch api.KindOf(err) {
	case api.ErrorKindPluginNotFound:
		return http.StatusNotFound
	case api.ErrorKindPluginNotReady, api.ErrorKindDuplicateRegistration, api.ErrorKindAlreadyInitialized:
		return http.StatusConflict
	case api.ErrorKindUnsupportedOperation, api.ErrorKindMissingConfigField, api.ErrorKindConfigType, api.ErrorKindInvalidMetadata:
		return http.StatusBadRequest
	case api.ErrorKindPluginExecution:
		return http.StatusUnprocessableEntity
	case api.ErrorKindRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func (c *Console) abortWithError(ctx *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		c.logger.Error("请求处理失败", "path", ctx.Request.URL.Path, "error", err)
	}
	_ = ctx.Error(err)
	ctx.AbortWithStatusJSON(status, newErrorBody(err))
}

// ping 健康检查
func (c *Console) ping(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"time":    time.Now().Format(time.RFC3339),
	})
}

// getStats 获取分发统计
func (c *Console) getStats(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"dispatch": c.dispatcher.Stats(),
		"sessions": c.sessions.count(),
		"plugins":  len(c.registry.Keys()),
	})
}

// getHealth 返回健康检查报告，整体不健康时返回 503
func (c *Console) getHealth(ctx *gin.Context) {
	report := c.health.Report(ctx.Request.Context())
	code := http.StatusOK
	if report.Status == health.StatusUnhealthy || report.Status == health.StatusUnknown {
		code = http.StatusServiceUnavailable
	}
	ctx.JSON(code, report)
}

// statuses 按注册顺序收集插件状态，category 为空时返回全部
func (c *Console) statuses(category api.Category) []api.PluginStatus {
	result := []api.PluginStatus{}
	for _, k := range c.registry.Keys() {
		if category != "" && k.Category != category {
			continue
		}
		status, err := c.registry.Status(k.Category, k.Name)
		if err != nil {
			// 列举期间被注销
			continue
		}
		result = append(result, status)
	}
	return result
}

// listPlugins 列出所有插件
func (c *Console) listPlugins(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"plugins": c.statuses("")})
}

// listCategory 列出某类插件
func (c *Console) listCategory(ctx *gin.Context) {
	category, err := api.ParseCategory(ctx.Param("category"))
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"category":   category,
		"operations": api.Operations(category),
		"plugins":    c.statuses(category),
	})
}

// getPlugin 获取插件状态
func (c *Console) getPlugin(ctx *gin.Context) {
	category, err := api.ParseCategory(ctx.Param("category"))
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, err := c.registry.Status(category, ctx.Param("name"))
	if err != nil {
		c.abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, status)
}

// retirePlugin 注销插件
func (c *Console) retirePlugin(ctx *gin.Context) {
	category, err := api.ParseCategory(ctx.Param("category"))
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := ctx.Param("name")
	if err := c.registry.Retire(ctx.Request.Context(), category, name); err != nil {
		c.abortWithError(ctx, err)
		return
	}
	c.logger.Info("插件已通过控制台注销", "category", category, "name", name)
	ctx.Status(http.StatusNoContent)
}

// postOperation 实例化插件或分发操作
func (c *Console) postOperation(ctx *gin.Context) {
	category, err := api.ParseCategory(ctx.Param("category"))
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := ctx.Param("name")
	operation := ctx.Param("operation")

	body, err := c.readOperationBody(ctx)
	if err != nil {
		c.abortWithError(ctx, err)
		return
	}

	if operation == operationInstantiate {
		c.instantiate(ctx, category, name, body.Config)
		return
	}

	res, err := c.dispatcher.DispatchResult(ctx.Request.Context(), dispatch.Request{
		Category:  category,
		Name:      name,
		Operation: api.Operation(operation),
		Payload:   body.Payload,
		Options:   body.Options,
	})
	if err != nil {
		c.abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"request_id":  res.RequestID,
		"value":       res.Value,
		"duration_ms": res.Duration.Milliseconds(),
	})
}

func (c *Console) instantiate(ctx *gin.Context, category api.Category, name string, cfg api.PluginConfig) {
	if _, err := c.registry.Instantiate(ctx.Request.Context(), category, name, cfg); err != nil {
		c.abortWithError(ctx, err)
		return
	}
	status, err := c.registry.Status(category, name)
	if err != nil {
		c.abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, status)
}

// parsedBody 解析后的操作请求
type parsedBody struct {
	Payload any
	Options api.Options
	Config  api.PluginConfig
}

// badRequestError 请求格式错误
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &badRequestError{err: fmt.Errorf(format, args...)}
}

// readOperationBody 读取请求体
// multipart 表单上传的 file 字段经 ingest 解析为表格，options 字段为 JSON 字符串
func (c *Console) readOperationBody(ctx *gin.Context) (*parsedBody, error) {
	if strings.HasPrefix(ctx.ContentType(), "multipart/") {
		return c.readUpload(ctx)
	}

	limit := c.reader.Limits().MaxSize
	data, err := io.ReadAll(io.LimitReader(ctx.Request.Body, limit+1))
	if err != nil {
		return nil, badRequest("读取请求体失败: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: 请求体超过 %d 字节", ingest.ErrTooLarge, limit)
	}

	var body operationBody
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, badRequest("请求体不是有效的JSON: %w", err)
		}
	}
	payload, err := ingest.DecodePayload(body.Payload)
	if err != nil {
		return nil, badRequest("%w", err)
	}
	return &parsedBody{Payload: payload, Options: body.Options, Config: body.Config}, nil
}

func (c *Console) readUpload(ctx *gin.Context) (*parsedBody, error) {
	file, header, err := ctx.Request.FormFile("file")
	if err != nil {
		return nil, badRequest("缺少上传文件: %w", err)
	}
	defer file.Close()

	table, err := c.reader.Read(header.Filename, file)
	if err != nil {
		if errors.Is(err, ingest.ErrTooLarge) || errors.Is(err, ingest.ErrUnsupportedType) {
			return nil, err
		}
		return nil, badRequest("%w", err)
	}

	parsed := &parsedBody{Payload: table}
	if raw := ctx.Request.FormValue("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &parsed.Options); err != nil {
			return nil, badRequest("options 不是有效的JSON: %w", err)
		}
	}
	return parsed, nil
}
