package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mediaportal/internal/config"
	"mediaportal/internal/conversation"
	"mediaportal/internal/model"
	"mediaportal/internal/notify"
	"mediaportal/internal/preview"
	"mediaportal/internal/transport"
)

// fakePortal 模拟图片、视频与进度接口
type fakePortal struct {
	t *testing.T

	imageStatus int
	imageBody   []byte
	videoBody   string
	events      map[string][]string // ticket -> raw data payloads
	holdOpen    bool                // keep progress stream open after events
	dropStream  bool                // respond 502 on progress channel

	calls        atomic.Int32
	streamsOpen  atomic.Int32
	mu           sync.Mutex
	lastFields   map[string]string
	lastFileType string
}

func (p *fakePortal) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/py/process_image", func(w http.ResponseWriter, r *http.Request) {
		p.calls.Add(1)
		p.record(r)
		if p.imageStatus != 0 && p.imageStatus != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(p.imageStatus)
			io.WriteString(w, `{"message":"bad image"}`)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(p.imageBody)
	})
	mux.HandleFunc("/api/py/process_video", func(w http.ResponseWriter, r *http.Request) {
		p.calls.Add(1)
		p.record(r)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, p.videoBody)
	})
	mux.HandleFunc("/api/py/video_result/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		io.WriteString(w, "result:"+strings.TrimPrefix(r.URL.Path, "/api/py/video_result/"))
	})
	mux.HandleFunc("/api/video_progress/", func(w http.ResponseWriter, r *http.Request) {
		p.streamsOpen.Add(1)
		if p.dropStream {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		ticket := strings.TrimPrefix(r.URL.Path, "/api/video_progress/")
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		io.WriteString(w, ": connected\n\n")
		flusher.Flush()
		for _, data := range p.events[ticket] {
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
		if p.holdOpen {
			<-r.Context().Done()
		}
	})
	return mux
}

func (p *fakePortal) record(r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		p.t.Errorf("ParseMultipartForm: %v", err)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastFields = map[string]string{
		"perturb_prob": r.FormValue("perturb_prob"),
		"visual_debug": r.FormValue("visual_debug"),
	}
	if _, h, err := r.FormFile("file"); err == nil {
		p.lastFileType = h.Header.Get("Content-Type")
	}
}

type harness struct {
	svc      *MediaService
	conv     *conversation.Conversation
	previews *preview.Registry
	rec      *notify.Recorder
	portal   *fakePortal
}

func newHarness(t *testing.T, portal *fakePortal) *harness {
	t.Helper()
	portal.t = t
	srv := httptest.NewServer(portal.handler())
	t.Cleanup(srv.Close)

	rec := &notify.Recorder{}
	client := transport.NewClient(transport.Options{BaseURL: srv.URL, Notifier: rec})
	conv := conversation.New()
	previews := preview.NewRegistry()
	cfg := config.PortalConfig{
		ImagePath:    "/api/py/process_image",
		VideoPath:    "/api/py/process_video",
		ProgressPath: "/api/video_progress/{task_id}",
		ResultPath:   "/api/py/video_result/{task_id}",
	}
	svc := NewMediaService(client, conv, previews, rec, cfg)
	t.Cleanup(svc.Close)

	return &harness{svc: svc, conv: conv, previews: previews, rec: rec, portal: portal}
}

func waitTrackers(t *testing.T, svc *MediaService) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		svc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("progress tracker did not finish")
	}
}

func TestSubmit_UnsupportedTypeIsNoop(t *testing.T) {
	h := newHarness(t, &fakePortal{})

	for _, ct := range []string{"application/pdf", "text/plain", ""} {
		err := h.svc.Submit(context.Background(), Upload{Name: "doc", ContentType: ct, Data: []byte("x")}, model.SubmissionOptions{})
		if err != nil {
			t.Errorf("Submit(%q) err = %v, want nil", ct, err)
		}
	}
	if h.conv.Len() != 0 {
		t.Errorf("messages = %d, want 0", h.conv.Len())
	}
	if h.portal.calls.Load() != 0 {
		t.Errorf("portal calls = %d, want 0", h.portal.calls.Load())
	}
	if h.previews.Len() != 0 {
		t.Errorf("previews = %d, want 0", h.previews.Len())
	}
	if len(h.rec.All()) != 0 {
		t.Errorf("notifications = %v", h.rec.All())
	}
}

func TestSubmit_ImageSuccess(t *testing.T) {
	h := newHarness(t, &fakePortal{imageBody: []byte("processed-png")})
	prob := 0.3

	err := h.svc.Submit(context.Background(),
		Upload{Name: "cat.jpg", ContentType: "image/jpeg", Data: []byte("raw-jpeg")},
		model.SubmissionOptions{DebugMode: true, PerturbProbability: &prob})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	msgs := h.conv.List()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[0].MediaLocator == "" || msgs[0].MediaKind != model.MediaImage {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != model.RoleAI || msgs[1].MediaLocator == "" {
		t.Errorf("ai message = %+v", msgs[1])
	}

	blob, err := h.previews.Open(msgs[1].MediaLocator)
	if err != nil {
		t.Fatalf("ai preview: %v", err)
	}
	if string(blob.Data) != "processed-png" || blob.ContentType != "image/png" {
		t.Errorf("ai preview = %q (%s)", blob.Data, blob.ContentType)
	}
	if userBlob, _ := h.previews.Open(msgs[0].MediaLocator); string(userBlob.Data) != "raw-jpeg" {
		t.Errorf("user preview = %q", userBlob.Data)
	}

	h.portal.mu.Lock()
	defer h.portal.mu.Unlock()
	if h.portal.lastFields["perturb_prob"] != "0.3" || h.portal.lastFields["visual_debug"] != "true" {
		t.Errorf("form fields = %v", h.portal.lastFields)
	}
	if h.portal.lastFileType != "image/jpeg" {
		t.Errorf("file part type = %q", h.portal.lastFileType)
	}
	if got := h.rec.Successes(); len(got) != 1 || got[0] != msgImageDone {
		t.Errorf("successes = %v", got)
	}
}

func TestSubmit_ImageFailure(t *testing.T) {
	h := newHarness(t, &fakePortal{imageStatus: http.StatusInternalServerError})

	err := h.svc.Submit(context.Background(),
		Upload{Name: "cat.jpg", ContentType: "image/jpeg", Data: []byte("raw")},
		model.SubmissionOptions{})
	if !errors.Is(err, transport.ErrRequestFailed) {
		t.Fatalf("err = %v, want ErrRequestFailed", err)
	}

	msgs := h.conv.List()
	if len(msgs) != 1 || msgs[0].Role != model.RoleUser {
		t.Errorf("messages = %+v, want only the user message", msgs)
	}
	if errs := h.rec.Errors(); len(errs) != 1 || errs[0] != "server error" {
		t.Errorf("errors = %v, want exactly one", errs)
	}
}

func TestSubmit_VideoCompleted(t *testing.T) {
	h := newHarness(t, &fakePortal{
		videoBody: `{"task_id":"t1"}`,
		events: map[string][]string{
			"t1": {`{"status":"processing","progress":40}`, `{"status":"completed"}`},
		},
	})

	err := h.svc.Submit(context.Background(),
		Upload{Name: "clip.mp4", ContentType: "video/mp4", Data: []byte("raw-mp4")},
		model.SubmissionOptions{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTrackers(t, h.svc)

	msgs := h.conv.List()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[0].MediaLocator == "" || msgs[0].MediaKind != model.MediaVideo {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].MediaLocator != "/api/py/video_result/t1" {
		t.Errorf("ai locator = %q, want /api/py/video_result/t1", msgs[1].MediaLocator)
	}
	if got := h.rec.Successes(); len(got) != 1 || got[0] != msgVideoDone {
		t.Errorf("successes = %v", got)
	}
	if errs := h.rec.Errors(); len(errs) != 0 {
		t.Errorf("errors = %v", errs)
	}
}

func TestSubmit_VideoEventsAfterCompletionIgnored(t *testing.T) {
	h := newHarness(t, &fakePortal{
		videoBody: `{"task_id":"t1"}`,
		events: map[string][]string{
			"t1": {`{"status":"completed"}`, `{"status":"error","error":"late"}`, `{"status":"completed"}`},
		},
	})

	if err := h.svc.Submit(context.Background(),
		Upload{Name: "clip.mp4", ContentType: "video/mp4", Data: []byte("v")},
		model.SubmissionOptions{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTrackers(t, h.svc)

	msgs := h.conv.List()
	if len(msgs) != 2 || msgs[1].MediaLocator != "/api/py/video_result/t1" {
		t.Fatalf("messages = %+v", msgs)
	}
	if got := h.rec.Successes(); len(got) != 1 {
		t.Errorf("successes = %v, want exactly one", got)
	}
	if errs := h.rec.Errors(); len(errs) != 0 {
		t.Errorf("errors = %v, want none", errs)
	}
}

func TestSubmit_VideoServerError(t *testing.T) {
	h := newHarness(t, &fakePortal{
		videoBody: `{"task_id":"t1"}`,
		events: map[string][]string{
			"t1": {`{"status":"error","error":"decode failed"}`},
		},
	})

	if err := h.svc.Submit(context.Background(),
		Upload{Name: "clip.mp4", ContentType: "video/mp4", Data: []byte("v")},
		model.SubmissionOptions{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTrackers(t, h.svc)

	msgs := h.conv.List()
	if len(msgs) != 1 || msgs[0].Role != model.RoleUser {
		t.Fatalf("messages = %+v, want only the user message", msgs)
	}
	if msgs[0].MediaLocator == "" {
		t.Error("user message was modified")
	}
	if errs := h.rec.Errors(); len(errs) != 1 || errs[0] != "decode failed" {
		t.Errorf("errors = %v, want [decode failed]", errs)
	}
}

func TestSubmit_VideoServerErrorDefaultMessage(t *testing.T) {
	h := newHarness(t, &fakePortal{
		videoBody: `{"task_id":"t2"}`,
		events:    map[string][]string{"t2": {`{"status":"error"}`}},
	})

	h.svc.Submit(context.Background(), Upload{Name: "a.webm", ContentType: "video/webm", Data: []byte("v")}, model.SubmissionOptions{})
	waitTrackers(t, h.svc)

	if errs := h.rec.Errors(); len(errs) != 1 || errs[0] != msgVideoFailed {
		t.Errorf("errors = %v, want [%s]", errs, msgVideoFailed)
	}
}

func TestSubmit_VideoMissingTicket(t *testing.T) {
	for _, body := range []string{`{}`, `{"task_id":""}`, `{"code":200,"data":{}}`} {
		h := newHarness(t, &fakePortal{videoBody: body})

		err := h.svc.Submit(context.Background(),
			Upload{Name: "clip.mp4", ContentType: "video/mp4", Data: []byte("v")},
			model.SubmissionOptions{})
		if !errors.Is(err, ErrMissingTicket) {
			t.Errorf("%s: err = %v, want ErrMissingTicket", body, err)
		}

		waitTrackers(t, h.svc)
		if h.conv.Len() != 1 {
			t.Errorf("%s: messages = %d, want 1", body, h.conv.Len())
		}
		if errs := h.rec.Errors(); len(errs) != 1 || errs[0] != ErrMissingTicket.Error() {
			t.Errorf("%s: errors = %v, want one", body, errs)
		}
		if n := h.portal.streamsOpen.Load(); n != 0 {
			t.Errorf("%s: progress channels opened = %d, want 0", body, n)
		}
	}
}

func TestSubmit_VideoUnparseableEventKeepsChannel(t *testing.T) {
	h := newHarness(t, &fakePortal{
		videoBody: `{"task_id":"t1"}`,
		events:    map[string][]string{"t1": {`not json`, `{"foo":1}`, `{"status":"completed"}`}},
	})

	h.svc.Submit(context.Background(), Upload{Name: "c.mp4", ContentType: "video/mp4", Data: []byte("v")}, model.SubmissionOptions{})
	waitTrackers(t, h.svc)

	if errs := h.rec.Errors(); len(errs) != 2 || errs[0] != msgParseFailed || errs[1] != msgParseFailed {
		t.Errorf("errors = %v, want two parse failures", errs)
	}
	msgs := h.conv.List()
	if len(msgs) != 2 || msgs[1].MediaLocator != "/api/py/video_result/t1" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestSubmit_VideoConnectionLost(t *testing.T) {
	// stream ends without a terminal event
	h := newHarness(t, &fakePortal{
		videoBody: `{"task_id":"t1"}`,
		events:    map[string][]string{"t1": {`{"status":"processing"}`}},
	})

	h.svc.Submit(context.Background(), Upload{Name: "c.mp4", ContentType: "video/mp4", Data: []byte("v")}, model.SubmissionOptions{})
	waitTrackers(t, h.svc)

	if errs := h.rec.Errors(); len(errs) != 1 || errs[0] != msgConnectionError {
		t.Errorf("errors = %v, want [%s]", errs, msgConnectionError)
	}
	if h.conv.Len() != 1 {
		t.Errorf("messages = %d, want pending entry removed", h.conv.Len())
	}
	if h.portal.streamsOpen.Load() != 1 {
		t.Errorf("streams opened = %d, want 1 (no reconnect)", h.portal.streamsOpen.Load())
	}
}

func TestSubmit_VideoChannelRejected(t *testing.T) {
	h := newHarness(t, &fakePortal{videoBody: `{"task_id":"t1"}`, dropStream: true})

	h.svc.Submit(context.Background(), Upload{Name: "c.mp4", ContentType: "video/mp4", Data: []byte("v")}, model.SubmissionOptions{})
	waitTrackers(t, h.svc)

	if errs := h.rec.Errors(); len(errs) != 1 || errs[0] != msgConnectionError {
		t.Errorf("errors = %v, want one connection error", errs)
	}
	if h.conv.Len() != 1 {
		t.Errorf("messages = %d, want 1", h.conv.Len())
	}
}

func TestClose_DetachesRunningTrackers(t *testing.T) {
	h := newHarness(t, &fakePortal{
		videoBody: `{"task_id":"t1"}`,
		events:    map[string][]string{"t1": {`{"status":"processing"}`}},
		holdOpen:  true,
	})

	if err := h.svc.Submit(context.Background(), Upload{Name: "c.mp4", ContentType: "video/mp4", Data: []byte("v")}, model.SubmissionOptions{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := make(chan struct{})
	go func() {
		h.svc.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not release the progress channel")
	}

	if len(h.rec.Errors()) != 0 {
		t.Errorf("detach produced notifications: %v", h.rec.Errors())
	}
	if h.previews.Len() != 0 {
		t.Errorf("previews = %d after Close, want 0", h.previews.Len())
	}

	// submissions after Close do not start trackers or leave pending entries
	before := h.conv.Len()
	err := h.svc.Submit(context.Background(), Upload{Name: "d.mp4", ContentType: "video/mp4", Data: []byte("v")}, model.SubmissionOptions{})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	for _, m := range h.conv.List()[before:] {
		if m.Pending() {
			t.Errorf("orphaned pending message %+v", m)
		}
	}
}

func TestSubmit_AfterCloseUploadsNothing(t *testing.T) {
	h := newHarness(t, &fakePortal{videoBody: `{"task_id":"t1"}`})
	h.svc.Close()

	err := h.svc.Submit(context.Background(), Upload{Name: "clip.mp4", ContentType: "video/mp4", Data: []byte("v")}, model.SubmissionOptions{})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if n := h.portal.calls.Load(); n != 0 {
		t.Errorf("portal calls = %d, want 0", n)
	}
	if h.conv.Len() != 0 {
		t.Errorf("messages = %+v, want none", h.conv.List())
	}
	if errs := h.rec.Errors(); len(errs) != 1 || errs[0] != ErrClosed.Error() {
		t.Errorf("errors = %v, want one %q", errs, ErrClosed.Error())
	}
}

func TestTrack_CompletedAfterResetIsSilent(t *testing.T) {
	h := newHarness(t, &fakePortal{
		events: map[string][]string{"t1": {`{"status":"completed"}`}},
	})

	// 占位消息已随会话一起被清空
	state, err := h.svc.tracker.Track(context.Background(), "t1", "ai-gone")
	if err != nil || state != StateCompleted {
		t.Fatalf("Track = %s, %v; want completed", state, err)
	}
	if h.conv.Len() != 0 {
		t.Errorf("messages = %d, want 0", h.conv.Len())
	}
	if len(h.rec.All()) != 0 {
		t.Errorf("notifications = %v, want none", h.rec.All())
	}
}

func TestReset_RevokesPreviews(t *testing.T) {
	h := newHarness(t, &fakePortal{imageBody: []byte("png")})
	h.svc.Submit(context.Background(), Upload{Name: "a.png", ContentType: "image/png", Data: []byte("x")}, model.SubmissionOptions{})
	if h.previews.Len() != 2 {
		t.Fatalf("previews = %d, want 2", h.previews.Len())
	}

	h.svc.Reset()
	if h.conv.Len() != 0 || h.previews.Len() != 0 {
		t.Errorf("after Reset: messages=%d previews=%d", h.conv.Len(), h.previews.Len())
	}
}

func TestExpandTicket(t *testing.T) {
	tests := []struct{ path, ticket, want string }{
		{"/api/video_progress/{task_id}", "t1", "/api/video_progress/t1"},
		{"/api/py/video_result/", "t1", "/api/py/video_result/t1"},
		{"/api/py/video_result", "a b", "/api/py/video_result/a%20b"},
	}
	for _, tt := range tests {
		if got := expandTicket(tt.path, tt.ticket); got != tt.want {
			t.Errorf("expandTicket(%q,%q) = %q, want %q", tt.path, tt.ticket, got, tt.want)
		}
	}
}

func TestTrackState_String(t *testing.T) {
	if StateCompleted.String() != "completed" || StateConnectionLost.String() != "connection_lost" {
		t.Error("unexpected state names")
	}
}

func TestDownload(t *testing.T) {
	h := newHarness(t, &fakePortal{imageBody: []byte("processed")})

	if err := h.svc.Submit(context.Background(), Upload{Name: "a.png", ContentType: "image/png", Data: []byte("orig")}, model.SubmissionOptions{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	msgs := h.conv.List()
	data, ct, err := h.svc.Download(context.Background(), msgs[1].MediaLocator)
	if err != nil {
		t.Fatalf("Download preview: %v", err)
	}
	if string(data) != "processed" || ct != "image/png" {
		t.Errorf("preview = %q %q", data, ct)
	}

	data, ct, err = h.svc.FetchResult(context.Background(), "t7")
	if err != nil {
		t.Fatalf("FetchResult: %v", err)
	}
	if string(data) != "result:t7" || ct != "video/mp4" {
		t.Errorf("result = %q %q", data, ct)
	}

	h.svc.Reset()
	calls := h.portal.calls.Load()
	if _, _, err := h.svc.Download(context.Background(), msgs[1].MediaLocator); !errors.Is(err, preview.ErrNotFound) {
		t.Errorf("revoked preview err = %v, want ErrNotFound", err)
	}
	if h.portal.calls.Load() != calls {
		t.Error("revoked preview fetched from portal")
	}
	if _, _, err := h.svc.Download(context.Background(), ""); err == nil {
		t.Error("expected error for empty locator")
	}
}
