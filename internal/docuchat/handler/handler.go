// Package handler provides the HTTP handlers of the document Q&A service.
package handler

import (
	"context"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/docuchat/internal/docuchat/biz"
	"github.com/kart-io/docuchat/internal/docuchat/metrics"
	"github.com/kart-io/docuchat/internal/docuchat/session"
	"github.com/kart-io/docuchat/internal/pkg/docload"
	"github.com/kart-io/docuchat/internal/pkg/httputils"
	"github.com/kart-io/docuchat/pkg/errors"
)

// SessionHeader 显式指定会话的请求头。未携带时按客户端 IP 派生会话。
const SessionHeader = "X-Session-ID"

// queryTimeout 单次问答的总超时，覆盖检索与整条供应商降级链。
const queryTimeout = 60 * time.Second

// Handler handles document Q&A HTTP requests.
type Handler struct {
	service        biz.Service
	sessions       *session.Store
	maxUploadBytes int64
}

// NewHandler creates a new Handler.
func NewHandler(service biz.Service, sessions *session.Store, maxUploadBytes int64) *Handler {
	return &Handler{
		service:        service,
		sessions:       sessions,
		maxUploadBytes: maxUploadBytes,
	}
}

// resolveSessionID 解析请求的会话标识。
// 显式头优先，否则按客户端 IP 稳定派生。
func (h *Handler) resolveSessionID(c *gin.Context) string {
	if sid := strings.TrimSpace(c.GetHeader(SessionHeader)); sid != "" {
		return sid
	}
	return h.sessions.GetOrCreateID(c.ClientIP())
}

// Upload 接收 multipart 上传，写入临时目录后执行索引管线。
// 临时副本在请求结束时删除，调用方的原始文件不受影响。
func (h *Handler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		httputils.WriteResponse(c, errors.ErrBadRequest.WithCause(err), nil)
		return
	}

	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		httputils.WriteResponse(c, errors.ErrNoDocuments, nil)
		return
	}

	tmpDir, err := os.MkdirTemp("", "docuchat-upload-*")
	if err != nil {
		httputils.WriteResponse(c, errors.ErrInternal.WithCause(err), nil)
		return
	}
	defer os.RemoveAll(tmpDir)

	files, oversize, unsupported := h.saveUploads(c, fileHeaders, tmpDir)
	if len(files) == 0 {
		switch {
		case oversize > 0:
			httputils.WriteResponse(c, errors.ErrFileTooLarge, nil)
		case unsupported > 0:
			httputils.WriteResponse(c, errors.ErrUnsupportedFileType, nil)
		default:
			httputils.WriteResponse(c, errors.ErrNoDocuments, nil)
		}
		return
	}

	sessionID := h.resolveSessionID(c)
	result, err := h.service.UploadAndIndex(c.Request.Context(), sessionID, files)
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}

	httputils.WriteResponse(c, nil, result)
}

// saveUploads 将上传写入临时目录，超限和不支持类型的文件跳过并计数。
func (h *Handler) saveUploads(c *gin.Context, headers []*multipart.FileHeader, dir string) ([]docload.File, int, int) {
	var files []docload.File
	oversize, unsupported := 0, 0

	for i, fh := range headers {
		ext := strings.ToLower(filepath.Ext(fh.Filename))
		if !docload.SupportedType(ext) {
			logger.Warnw("skipping unsupported upload",
				"filename", fh.Filename,
				"type", ext,
			)
			unsupported++
			continue
		}
		if h.maxUploadBytes > 0 && fh.Size > h.maxUploadBytes {
			logger.Warnw("skipping oversize upload",
				"filename", fh.Filename,
				"size", fh.Size,
				"limit", h.maxUploadBytes,
			)
			oversize++
			continue
		}

		// 落盘文件名不信任客户端提交的路径
		dst := filepath.Join(dir, "upload-"+strconv.Itoa(i)+ext)
		if err := c.SaveUploadedFile(fh, dst); err != nil {
			logger.Warnw("failed to save upload, skipping",
				"filename", fh.Filename,
				"error", err.Error(),
			)
			continue
		}
		files = append(files, docload.File{
			// 展示名只保留基名，客户端路径不落库
			Name: filepath.Base(fh.Filename),
			Path: dst,
			Type: ext,
		})
	}

	return files, oversize, unsupported
}

// QueryRequest represents a query request.
type QueryRequest struct {
	Question  string `json:"question" binding:"required"`
	SessionID string `json:"session_id"`
}

// Query performs a session-scoped retrieval query.
func (h *Handler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputils.WriteResponse(c, errors.ErrEmptyQuery.WithCause(err), nil)
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = h.resolveSessionID(c)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	result, err := h.service.Query(ctx, sessionID, req.Question)
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}

	httputils.WriteResponse(c, nil, result)
}

// Health returns service health details.
func (h *Handler) Health(c *gin.Context) {
	httputils.WriteResponse(c, nil, h.service.Health(c.Request.Context()))
}

// SweepSessions triggers a synchronous expiry sweep.
func (h *Handler) SweepSessions(c *gin.Context) {
	httputils.WriteResponse(c, nil, h.service.SweepSessions(c.Request.Context()))
}

// Metrics exposes Prometheus-format business metrics.
func (h *Handler) Metrics(c *gin.Context) {
	c.String(http.StatusOK, metrics.Get().Export("docuchat"))
}
