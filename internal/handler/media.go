package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"mediaportal/internal/model"
	"mediaportal/internal/notify"
	"mediaportal/internal/service"
	"mediaportal/internal/utils"
	"mediaportal/pkg/logger"

	"github.com/gin-gonic/gin"
)

type MediaHandler struct {
	mediaService *service.MediaService
	broadcaster  *notify.Broadcaster
	maxBytes     int64
	heartbeat    time.Duration
}

func NewMediaHandler(mediaService *service.MediaService, broadcaster *notify.Broadcaster, maxBytes int64, heartbeat time.Duration) *MediaHandler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &MediaHandler{
		mediaService: mediaService,
		broadcaster:  broadcaster,
		maxBytes:     maxBytes,
		heartbeat:    heartbeat,
	}
}

// Submit 接收 multipart 上传: file, perturb_prob, visual_debug
func (h *MediaHandler) Submit(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if h.maxBytes > 0 && fh.Size > h.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file exceeds %d bytes", h.maxBytes)})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts, err := parseOptions(c.PostForm("perturb_prob"), c.PostForm("visual_debug"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = utils.DetectMediaType(fh.Filename, data)
	}

	up := service.Upload{Name: fh.Filename, ContentType: contentType, Data: data}
	if err := h.mediaService.Submit(c.Request.Context(), up, opts); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": h.mediaService.Conversation().List(),
	})
}

func parseOptions(prob, debug string) (model.SubmissionOptions, error) {
	var opts model.SubmissionOptions
	if prob != "" {
		p, err := strconv.ParseFloat(prob, 64)
		if err != nil {
			return opts, fmt.Errorf("invalid perturb_prob %q", prob)
		}
		opts.PerturbProbability = &p
	}
	if debug != "" {
		d, err := strconv.ParseBool(debug)
		if err != nil {
			return opts, fmt.Errorf("invalid visual_debug %q", debug)
		}
		opts.DebugMode = d
	}
	return opts, nil
}

func (h *MediaHandler) GetMessages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"messages": h.mediaService.Conversation().List(),
	})
}

func (h *MediaHandler) ClearMessages(c *gin.Context) {
	h.mediaService.Reset()
	c.JSON(http.StatusOK, gin.H{"message": "conversation cleared"})
}

func (h *MediaHandler) Preview(c *gin.Context) {
	blob, err := h.mediaService.Previews().Open(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, blob.ContentType, blob.Data)
}

// Result 代理门户上的视频结果，浏览器无法直接携带 bearer
func (h *MediaHandler) Result(c *gin.Context) {
	data, contentType, err := h.mediaService.FetchResult(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, contentType, data)
}

// Events 推送会话变更、提示与跳转，先发一次完整快照
func (h *MediaHandler) Events(c *gin.Context) {
	sseWriter := utils.NewSSEWriter(c.Writer)

	snapshot, changes, cancelChanges := h.mediaService.Conversation().Watch(64)
	defer cancelChanges()
	notes, cancelNotes := h.broadcaster.Subscribe(16)
	defer cancelNotes()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	if err := sseWriter.Write("snapshot", gin.H{"messages": snapshot}); err != nil {
		logger.Warnf("Failed to write snapshot: %v", err)
		return
	}

	for {
		select {
		case change, ok := <-changes:
			if !ok {
				return
			}
			if err := sseWriter.Write("conversation", change); err != nil {
				logger.Debugf("Event stream closed: %v", err)
				return
			}

		case n, ok := <-notes:
			if !ok {
				return
			}
			event := "notification"
			if n.Level == notify.LevelRedirect {
				event = "redirect"
			}
			if err := sseWriter.Write(event, n); err != nil {
				logger.Debugf("Event stream closed: %v", err)
				return
			}

		case <-heartbeat.C:
			if err := sseWriter.Write("heartbeat", gin.H{"timestamp": time.Now().Unix()}); err != nil {
				logger.Debugf("Heartbeat failed: %v", err)
				return
			}

		case <-ctx.Done():
			if ctx.Err() != context.Canceled {
				logger.Debugf("Event stream ended: %v", ctx.Err())
			}
			return
		}
	}
}
