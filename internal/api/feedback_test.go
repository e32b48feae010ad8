package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkoshel/mentorlab/internal/chat"
	"github.com/dkoshel/mentorlab/internal/identity"
	"github.com/dkoshel/mentorlab/internal/store"
	"github.com/dkoshel/mentorlab/internal/tutor"
	"github.com/go-chi/chi/v5"
)

type feedbackFixture struct {
	store   *store.SQLiteStore
	manager *chat.Manager
	router  http.Handler
	cookie  *http.Cookie
	userID  string
}

func newFeedbackFixture(t *testing.T) *feedbackFixture {
	t.Helper()

	s := newTestStore(t)
	manager := chat.NewManager()

	r := chi.NewRouter()
	r.Use(identity.Middleware(s, true))
	NewFeedbackHandler(s, manager).RegisterRoutes(r)

	// A throwaway request establishes the anonymous identity cookie.
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/feedback", strings.NewReader(`{}`)))

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == identity.AnonCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("Expected the identity cookie to be set")
	}

	return &feedbackFixture{
		store:   s,
		manager: manager,
		router:  r,
		cookie:  cookie,
		userID:  cookie.Value,
	}
}

// openSession registers a live chat session with an open discussion for the
// fixture's user, the way the WebSocket handler would.
func (f *feedbackFixture) openSession(t *testing.T) *tutor.Controller {
	t.Helper()

	pool := tutor.NewWorkerPool(1, 4)
	t.Cleanup(pool.Close)
	invoker := tutor.NewRetryingInvoker(3, 0, nil)

	session := chat.NewSession("sess-fb", f.userID, nil, nil)
	ctrl := tutor.NewController("sess-fb", f.store,
		tutor.NewProgressJudge(nil, invoker, 20),
		tutor.NewMentorAgent(nil, invoker, 20),
		pool, session, nil,
	)
	session.SetController(ctrl)

	topics, err := f.store.ListTopics(context.Background())
	if err != nil || len(topics) == 0 {
		t.Fatalf("Failed to list topics: %v", err)
	}
	if _, err := ctrl.Start(context.Background(), topics[0].ID); err != nil {
		t.Fatalf("Failed to start discussion: %v", err)
	}

	f.manager.Register(f.userID, identity.DefaultTabValue, session)
	return ctrl
}

func (f *feedbackFixture) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/feedback", strings.NewReader(body))
	req.AddCookie(f.cookie)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestFeedbackFiledAndReconciled(t *testing.T) {
	t.Parallel()

	f := newFeedbackFixture(t)
	ctrl := f.openSession(t)

	rec := f.post(t, `{"code":"confusing","details":"the hint contradicted the question","message_ids":[0]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	discussionID := ctrl.DiscussionID()
	ids, err := f.store.ListFeedbackMessageIDs(context.Background(), discussionID)
	if err != nil {
		t.Fatalf("ListFeedbackMessageIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != 0 {
		t.Fatalf("Expected provisional reference [0], got %v", ids)
	}

	// Closing the discussion flushes the log and rewrites the reference to
	// the permanent message id.
	if err := ctrl.End(context.Background()); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	msgs, err := f.store.ListMessages(context.Background(), discussionID)
	if err != nil || len(msgs) == 0 {
		t.Fatalf("ListMessages failed: %v", err)
	}
	ids, err = f.store.ListFeedbackMessageIDs(context.Background(), discussionID)
	if err != nil {
		t.Fatalf("ListFeedbackMessageIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != msgs[0].ID {
		t.Errorf("Expected reference to resolve to message id %d, got %v", msgs[0].ID, ids)
	}
}

func TestFeedbackRepeatedReferencesStoredOnce(t *testing.T) {
	t.Parallel()

	f := newFeedbackFixture(t)
	ctrl := f.openSession(t)

	rec := f.post(t, `{"code":"confusing","message_ids":[0,0,0]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	ids, err := f.store.ListFeedbackMessageIDs(context.Background(), ctrl.DiscussionID())
	if err != nil {
		t.Fatalf("ListFeedbackMessageIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != 0 {
		t.Errorf("Expected one stored reference [0], got %v", ids)
	}
}

func TestFeedbackValidation(t *testing.T) {
	t.Parallel()

	f := newFeedbackFixture(t)
	f.openSession(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "missing code", body: `{"message_ids":[0]}`, want: http.StatusBadRequest},
		{name: "no references", body: `{"code":"confusing"}`, want: http.StatusBadRequest},
		{name: "unknown reference", body: `{"code":"confusing","message_ids":[99]}`, want: http.StatusUnprocessableEntity},
		{name: "malformed body", body: `{"code":`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.post(t, tt.body)
			if rec.Code != tt.want {
				t.Errorf("Expected status %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestFeedbackWithoutActiveSession(t *testing.T) {
	t.Parallel()

	f := newFeedbackFixture(t)

	rec := f.post(t, `{"code":"confusing","message_ids":[0]}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", rec.Code)
	}
}
