package handler

import (
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/campushq/portal-api/internal/middleware"
	"github.com/campushq/portal-api/internal/models"
	"github.com/campushq/portal-api/internal/service"
)

type feedRepoMock struct {
	messages   map[string]*models.Message
	deliveries map[string]*models.NotificationDelivery
}

func newFeedRepoMock() *feedRepoMock {
	return &feedRepoMock{
		messages:   map[string]*models.Message{},
		deliveries: map[string]*models.NotificationDelivery{},
	}
}

func (m *feedRepoMock) CreateBroadcast(ctx context.Context, message *models.Message, recipients []string) ([]models.NotificationDelivery, error) {
	message.ID = uuid.NewString()
	message.CreatedAt = time.Now().UTC()
	m.messages[message.ID] = message
	out := make([]models.NotificationDelivery, 0, len(recipients))
	for _, recipient := range recipients {
		delivery := models.NotificationDelivery{
			ID:          uuid.NewString(),
			MessageID:   message.ID,
			RecipientID: recipient,
			CreatedAt:   message.CreatedAt,
		}
		m.deliveries[delivery.ID] = &delivery
		out = append(out, delivery)
	}
	return out, nil
}

func (m *feedRepoMock) ListByRecipient(ctx context.Context, recipientID string) ([]models.NotificationItem, error) {
	var items []models.NotificationItem
	for _, d := range m.deliveries {
		if d.RecipientID != recipientID {
			continue
		}
		msg := m.messages[d.MessageID]
		items = append(items, models.NotificationItem{
			DeliveryID: d.ID,
			MessageID:  msg.ID,
			SenderID:   msg.SenderID,
			Title:      msg.Title,
			Body:       msg.Body,
			IsRead:     d.IsRead,
			CreatedAt:  d.CreatedAt,
		})
	}
	return items, nil
}

func (m *feedRepoMock) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	count := 0
	for _, d := range m.deliveries {
		if d.RecipientID == recipientID && !d.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *feedRepoMock) FindDelivery(ctx context.Context, id string) (*models.NotificationDelivery, error) {
	if d, ok := m.deliveries[id]; ok {
		clone := *d
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *feedRepoMock) MarkRead(ctx context.Context, id string, readAt time.Time) (bool, error) {
	d, ok := m.deliveries[id]
	if !ok || d.IsRead {
		return false, nil
	}
	d.IsRead = true
	d.ReadAt = &readAt
	return true, nil
}

type feedRosterMock struct{}

func (feedRosterMock) StudentsOf(ctx context.Context, course string) ([]string, error) {
	return []string{"stu-1", "stu-2"}, nil
}

func (feedRosterMock) AllStudents(ctx context.Context) ([]string, error) {
	return []string{"stu-1", "stu-2", "stu-3"}, nil
}

func buildNotificationRouter(repo *feedRepoMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			c.Set(middleware.ContextSessionKey, &models.Session{
				Identity: models.Identity{ID: id, Email: id + "@example.edu"},
				Role:     models.ParseRole(c.GetHeader("X-Test-Role")),
			})
		}
		c.Next()
	})

	svc := service.NewNotificationService(repo, feedRosterMock{}, nil, 0, nil, nil)
	h := NewNotificationHandler(svc, nil)
	router.GET("/notifications", h.List)
	router.POST("/notifications/broadcast", h.Broadcast)
	router.POST("/notifications/:id/read", h.MarkRead)
	return router
}

func performRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestNotificationRoutes(t *testing.T) {
	repo := newFeedRepoMock()
	router := buildNotificationRouter(repo)

	t.Run("broadcast success", func(t *testing.T) {
		payload := `{"title":"Midterm moved","body":"See the portal.","target_type":"COURSE","target":"MATH-101"}`
		req, _ := http.NewRequest(http.MethodPost, "/notifications/broadcast", bytes.NewBufferString(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-User", "tch-1")
		req.Header.Set("X-Test-Role", "TEACHER")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusCreated, resp.Code)
		require.Contains(t, resp.Body.String(), `"recipients":2`)
	})

	t.Run("broadcast forbidden for students", func(t *testing.T) {
		payload := `{"title":"Hi","body":"There.","target_type":"ALL"}`
		req, _ := http.NewRequest(http.MethodPost, "/notifications/broadcast", bytes.NewBufferString(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-User", "stu-1")
		req.Header.Set("X-Test-Role", "STUDENT")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("list feed with unread count", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/notifications", nil)
		req.Header.Set("X-Test-User", "stu-1")
		req.Header.Set("X-Test-Role", "STUDENT")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"unread_count":1`)
	})

	t.Run("mark read returns no content", func(t *testing.T) {
		var deliveryID string
		for id, d := range repo.deliveries {
			if d.RecipientID == "stu-1" {
				deliveryID = id
			}
		}
		require.NotEmpty(t, deliveryID)

		req, _ := http.NewRequest(http.MethodPost, "/notifications/"+deliveryID+"/read", nil)
		req.Header.Set("X-Test-User", "stu-1")
		req.Header.Set("X-Test-Role", "STUDENT")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusNoContent, resp.Code)
		require.True(t, repo.deliveries[deliveryID].IsRead)
	})

	t.Run("mark read for another recipient is forbidden", func(t *testing.T) {
		var deliveryID string
		for id, d := range repo.deliveries {
			if d.RecipientID == "stu-2" {
				deliveryID = id
			}
		}
		require.NotEmpty(t, deliveryID)

		req, _ := http.NewRequest(http.MethodPost, "/notifications/"+deliveryID+"/read", nil)
		req.Header.Set("X-Test-User", "stu-1")
		req.Header.Set("X-Test-Role", "STUDENT")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
	})
}
