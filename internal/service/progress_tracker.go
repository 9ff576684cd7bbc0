package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"mediaportal/internal/conversation"
	"mediaportal/internal/model"
	"mediaportal/internal/notify"
	"mediaportal/internal/transport"
	"mediaportal/pkg/logger"

	"github.com/sirupsen/logrus"
)

// TrackState 进度跟踪的状态: Open -> Receiving -> 终态
type TrackState int

const (
	StateOpen TrackState = iota
	StateReceiving
	StateCompleted
	StateFailed
	StateConnectionLost
	// StateDetached 所属页面关闭，通道被关闭，不再提示
	StateDetached
)

func (s TrackState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateReceiving:
		return "receiving"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateConnectionLost:
		return "connection_lost"
	case StateDetached:
		return "detached"
	}
	return "unknown"
}

const (
	msgVideoDone       = "video processing completed"
	msgVideoFailed     = "video processing failed"
	msgParseFailed     = "failed to parse progress data"
	msgConnectionError = "connection error, please retry"
)

type ProgressTracker struct {
	client       *transport.Client
	conv         *conversation.Conversation
	notifier     notify.Notifier
	progressPath string
	resultPath   string
}

func NewProgressTracker(client *transport.Client, conv *conversation.Conversation, notifier notify.Notifier, progressPath, resultPath string) *ProgressTracker {
	return &ProgressTracker{
		client:       client,
		conv:         conv,
		notifier:     notifier,
		progressPath: progressPath,
		resultPath:   resultPath,
	}
}

// ResultLocator 由任务 ID 推导出的结果地址
func (t *ProgressTracker) ResultLocator(ticket string) string {
	return expandTicket(t.resultPath, ticket)
}

// Track 监听一个任务的进度通道并更新对应的占位消息，直到进入终态才返回。
// 每个任务只会有一次 completed 转换，之后通道已关闭，后续事件不会产生任何效果。
func (t *ProgressTracker) Track(ctx context.Context, ticket, messageID string) (TrackState, error) {
	log := logger.WithFields(map[string]interface{}{
		"task_id":    ticket,
		"message_id": messageID,
	})

	stream, err := t.client.Stream(ctx, expandTicket(t.progressPath, ticket), transport.Silent())
	if err != nil {
		if ctx.Err() != nil {
			return StateDetached, ctx.Err()
		}
		return t.connectionLost(log, messageID, err)
	}
	defer stream.Close()
	log.Debug("Progress channel open")

	for {
		ev, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Progress channel detached")
				return StateDetached, ctx.Err()
			}
			return t.connectionLost(log, messageID, err)
		}

		var pe model.ProgressEvent
		if err := json.Unmarshal([]byte(ev.Data), &pe); err != nil || pe.Status == "" {
			log.Warnf("Failed to parse progress data: %q", ev.Data)
			t.notifier.Error(msgParseFailed)
			continue
		}

		switch pe.Status {
		case model.ProgressCompleted:
			stream.Close()
			locator := t.ResultLocator(ticket)
			if err := t.conv.UpdateByID(messageID, model.MessagePatch{MediaLocator: &locator}); err != nil {
				// 会话已被清空，结果无处展示，也不提示
				log.Warnf("Completed job has no pending message: %v", err)
				return StateCompleted, nil
			}
			t.notifier.Success(msgVideoDone)
			log.Info("Video processing completed")
			return StateCompleted, nil

		case model.ProgressError:
			stream.Close()
			msg := pe.Error
			if msg == "" {
				msg = msgVideoFailed
			}
			t.notifier.Error(msg)
			t.remove(log, messageID)
			log.Warnf("Video processing failed: %s", msg)
			return StateFailed, fmt.Errorf("%w: %s", ErrServerReported, msg)

		default:
			if pe.Progress != nil {
				log.Debugf("Progress %s %.0f%%", pe.Status, *pe.Progress)
			} else {
				log.Debugf("Progress %s", pe.Status)
			}
		}
	}
}

func (t *ProgressTracker) connectionLost(log *logrus.Entry, messageID string, cause error) (TrackState, error) {
	log.Warnf("Progress channel lost: %v", cause)
	t.notifier.Error(msgConnectionError)
	t.remove(log, messageID)
	return StateConnectionLost, fmt.Errorf("%w: %v", ErrChannel, cause)
}

func (t *ProgressTracker) remove(log *logrus.Entry, messageID string) {
	if err := t.conv.RemoveByID(messageID); err != nil {
		log.Warnf("Failed to remove pending message: %v", err)
	}
}

func expandTicket(path, ticket string) string {
	escaped := url.PathEscape(ticket)
	if strings.Contains(path, "{task_id}") {
		return strings.ReplaceAll(path, "{task_id}", escaped)
	}
	return strings.TrimRight(path, "/") + "/" + escaped
}
