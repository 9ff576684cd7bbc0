package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"mediaportal/internal/config"
	"mediaportal/internal/conversation"
	"mediaportal/internal/model"
	"mediaportal/internal/notify"
	"mediaportal/internal/preview"
	"mediaportal/internal/transport"
	"mediaportal/internal/utils"
	"mediaportal/pkg/logger"

	"github.com/google/uuid"
)

const (
	msgImageDone   = "image processed"
	msgImageFailed = "image processing failed"
)

// Upload 用户在本地选择的文件
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// MediaService 把上传的文件分发到图片或视频接口，并维护会话中的消息。
// 它对应一个页面：进度跟踪与本地预览的生命周期都绑定在它上面，Close 时一并释放。
type MediaService struct {
	client   *transport.Client
	conv     *conversation.Conversation
	previews *preview.Registry
	notifier notify.Notifier
	tracker  *ProgressTracker
	portal   config.PortalConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool

	now func() time.Time
}

func NewMediaService(client *transport.Client, conv *conversation.Conversation, previews *preview.Registry, notifier notify.Notifier, portal config.PortalConfig) *MediaService {
	ctx, cancel := context.WithCancel(context.Background())
	return &MediaService{
		client:   client,
		conv:     conv,
		previews: previews,
		notifier: notifier,
		tracker:  NewProgressTracker(client, conv, notifier, portal.ProgressPath, portal.ResultPath),
		portal:   portal,
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

func (s *MediaService) Conversation() *conversation.Conversation {
	return s.conv
}

func (s *MediaService) Previews() *preview.Registry {
	return s.previews
}

// Submit 提交一个文件。非图片/视频类型静默忽略，不创建消息也不发请求。
// 视频任务在返回后继续由后台的进度跟踪更新占位消息。
func (s *MediaService) Submit(ctx context.Context, up Upload, opts model.SubmissionOptions) error {
	kind, ok := utils.ClassifyMedia(up.ContentType)
	if !ok {
		logger.Debugf("Ignoring %s with unsupported type %q", up.Name, up.ContentType)
		return nil
	}
	// 页面已关闭：不再上传，避免在门户上留下无人跟踪的任务
	if s.isClosed() {
		return s.failed(ErrClosed, ErrClosed.Error())
	}

	form := &transport.Form{
		Fields:      opts.FormValues(),
		FileName:    up.Name,
		ContentType: up.ContentType,
		File:        up.Data,
	}

	userMsg := model.Message{
		ID:           newMessageID(model.RoleUser),
		Role:         model.RoleUser,
		MediaLocator: s.previews.Create(up.Data, up.ContentType),
		MediaKind:    kind,
		CreatedAt:    s.now(),
	}
	if err := s.conv.Append(userMsg); err != nil {
		s.previews.Revoke(userMsg.MediaLocator)
		return fmt.Errorf("failed to add message: %w", err)
	}

	if kind == model.MediaImage {
		return s.submitImage(ctx, form)
	}
	return s.submitVideo(ctx, form)
}

func (s *MediaService) submitImage(ctx context.Context, form *transport.Form) error {
	resp, err := s.client.Upload(ctx, s.portal.ImagePath, form, transport.Silent())
	if err != nil {
		return s.failed(err, msgImageFailed)
	}
	if !resp.Binary || len(resp.Body) == 0 {
		return s.failed(ErrUnexpectedBody, msgImageFailed)
	}

	aiMsg := model.Message{
		ID:           newMessageID(model.RoleAI),
		Role:         model.RoleAI,
		MediaLocator: s.previews.Create(resp.Body, resp.ContentType),
		MediaKind:    model.MediaImage,
		CreatedAt:    s.now(),
	}
	if err := s.conv.Append(aiMsg); err != nil {
		s.previews.Revoke(aiMsg.MediaLocator)
		return fmt.Errorf("failed to add message: %w", err)
	}

	s.notifier.Success(msgImageDone)
	return nil
}

func (s *MediaService) submitVideo(ctx context.Context, form *transport.Form) error {
	resp, err := s.client.Upload(ctx, s.portal.VideoPath, form, transport.Silent())
	if err != nil {
		return s.failed(err, msgVideoFailed)
	}

	ticket, err := transport.Unwrap[model.TicketResponse](resp)
	if err != nil || ticket.TaskID == "" {
		return s.failed(ErrMissingTicket, ErrMissingTicket.Error())
	}

	aiMsg := model.Message{
		ID:        newMessageID(model.RoleAI),
		Role:      model.RoleAI,
		MediaKind: model.MediaVideo,
		CreatedAt: s.now(),
	}
	if err := s.conv.Append(aiMsg); err != nil {
		return fmt.Errorf("failed to add message: %w", err)
	}

	if err := s.track(ticket.TaskID, aiMsg.ID); err != nil {
		// 跟踪没有启动，不能留下孤立的占位消息
		if rmErr := s.conv.RemoveByID(aiMsg.ID); rmErr != nil {
			logger.Warnf("Failed to remove pending message %s: %v", aiMsg.ID, rmErr)
		}
		return s.failed(err, msgVideoFailed)
	}

	logger.WithFields(map[string]interface{}{
		"task_id":    ticket.TaskID,
		"message_id": aiMsg.ID,
	}).Info("Video job accepted")
	return nil
}

// track 在页面的生命周期内启动进度跟踪，而不是在单次请求的 ctx 内
func (s *MediaService) track(ticket, messageID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		state, err := s.tracker.Track(s.ctx, ticket, messageID)
		if err != nil {
			logger.Debugf("Tracker for %s ended in %s: %v", ticket, state, err)
		}
	}()
	return nil
}

func (s *MediaService) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// failed 提示一次并返回原错误；请求被取消时不提示
func (s *MediaService) failed(err error, fallback string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := err.Error()
	if msg == "" {
		msg = fallback
	}
	logger.Errorf("Media submission failed: %v", err)
	s.notifier.Error(msg)
	return err
}

// ResultLocator returns where the finished video for ticket can be fetched.
func (s *MediaService) ResultLocator(ticket string) string {
	return s.tracker.ResultLocator(ticket)
}

// FetchResult 下载视频处理结果
func (s *MediaService) FetchResult(ctx context.Context, ticket string) ([]byte, string, error) {
	return s.Download(ctx, s.ResultLocator(ticket))
}

// Download 读取消息中的媒体：本地预览直接返回，其余按门户路径下载
func (s *MediaService) Download(ctx context.Context, locator string) ([]byte, string, error) {
	if locator == "" {
		return nil, "", fmt.Errorf("message has no media yet")
	}
	if strings.HasPrefix(locator, preview.Prefix) {
		blob, err := s.previews.Open(locator)
		if err != nil {
			return nil, "", err
		}
		return blob.Data, blob.ContentType, nil
	}

	resp, err := s.client.Get(ctx, locator)
	if err != nil {
		return nil, "", err
	}
	if !resp.Binary {
		return nil, "", fmt.Errorf("%s is not media (%s)", locator, resp.ContentType)
	}
	return resp.Body, resp.ContentType, nil
}

// Reset 开始新的会话，释放旧消息占用的本地预览
func (s *MediaService) Reset() {
	for _, m := range s.conv.Clear() {
		s.previews.Revoke(m.MediaLocator)
	}
}

// Wait blocks until every running progress tracker reached a terminal state.
func (s *MediaService) Wait() {
	s.wg.Wait()
}

// Close 关闭页面：断开所有进度通道、等待跟踪协程退出、释放预览
func (s *MediaService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.previews.RevokeAll()
}

func newMessageID(role model.Role) string {
	return string(role) + "-" + uuid.New().String()
}
