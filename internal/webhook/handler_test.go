package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"sante/internal/event"
	"sante/internal/platform/config"
	"sante/internal/platform/logger"
	"sante/internal/stream"
)

type HandlerSuite struct {
	suite.Suite
	broker   *stream.MemoryBroker
	verifier *Verifier
	router   chi.Router
	now      time.Time
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	s.broker = stream.NewMemoryBroker()
	s.verifier = NewVerifier("webhook-secret", 5*time.Minute)
	s.verifier.now = func() time.Time { return s.now }

	cfg := config.Webhook{MaxBodyBytes: 1 << 20}
	h := New(s.verifier, s.broker, cfg, "identity:events", logger.New("test"), nil)
	h.now = s.verifier.now

	s.router = chi.NewRouter()
	h.Register(s.router)
}

func (s *HandlerSuite) validEvent() event.Inbound {
	return event.Inbound{
		Type:    event.TypeLogin,
		RealmID: "sante",
		UserID:  uuid.NewString(),
		TimeMS:  s.now.Add(-time.Minute).UnixMilli(),
	}
}

// post signs and sends the body, with optional header overrides.
func (s *HandlerSuite) post(body []byte, override func(*http.Request)) *httptest.ResponseRecorder {
	ts := strconv.FormatInt(s.now.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/identity", bytes.NewReader(body))
	req.Header.Set("X-Signature", s.verifier.Sign(body, ts))
	req.Header.Set("X-Timestamp", ts)
	if override != nil {
		override(req)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) marshal(e event.Inbound) []byte {
	raw, err := json.Marshal(e)
	s.Require().NoError(err)
	return raw
}

func (s *HandlerSuite) TestAcceptsValidEvent() {
	e := s.validEvent()
	rec := s.post(s.marshal(e), nil)

	s.Require().Equal(http.StatusAccepted, rec.Code)

	var resp struct {
		Accepted  bool   `json:"accepted"`
		MessageID string `json:"message_id"`
		EventType string `json:"event_type"`
		UserID    string `json:"user_id"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.True(resp.Accepted)
	s.NotEmpty(resp.MessageID)
	s.Equal(event.TypeLogin, resp.EventType)
	s.Equal(e.UserID, resp.UserID)

	s.Require().Equal(1, s.broker.Len("identity:events"))
	entries := s.broker.Entries("identity:events")
	decoded, err := event.FromFields(entries[0].Values)
	s.Require().NoError(err)
	s.Equal(e.UserID, decoded.UserID)
	s.NotEmpty(entries[0].Values[event.FieldEnqueuedAt])
}

func (s *HandlerSuite) TestMissingHeadersReturn400() {
	for name, override := range map[string]func(*http.Request){
		"no signature": func(r *http.Request) { r.Header.Del("X-Signature") },
		"no timestamp": func(r *http.Request) { r.Header.Del("X-Timestamp") },
	} {
		s.Run(name, func() {
			rec := s.post(s.marshal(s.validEvent()), override)
			s.Equal(http.StatusBadRequest, rec.Code)
			s.Equal(0, s.broker.Len("identity:events"))
		})
	}
}

func (s *HandlerSuite) TestBadSignatureReturns401() {
	rec := s.post(s.marshal(s.validEvent()), func(r *http.Request) {
		r.Header.Set("X-Signature", "deadbeef")
	})
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal(0, s.broker.Len("identity:events"))
}

func (s *HandlerSuite) TestStaleTimestampReturns401() {
	body := s.marshal(s.validEvent())
	stale := strconv.FormatInt(s.now.Add(-10*time.Minute).Unix(), 10)
	rec := s.post(body, func(r *http.Request) {
		r.Header.Set("X-Timestamp", stale)
		r.Header.Set("X-Signature", s.verifier.Sign(body, stale))
	})
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestMalformedBodyReturns400() {
	rec := s.post([]byte("{not json"), nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestEventOutsideAdmissionWindowReturns400() {
	e := s.validEvent()
	e.TimeMS = s.now.Add(-31 * 24 * time.Hour).UnixMilli()
	rec := s.post(s.marshal(e), nil)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(0, s.broker.Len("identity:events"))
}

func (s *HandlerSuite) TestMissingIdentifiersReturn400() {
	e := s.validEvent()
	e.UserID = ""
	rec := s.post(s.marshal(e), nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestBrokerOutageReturns503() {
	h := New(s.verifier, failingBroker{}, config.Webhook{MaxBodyBytes: 1 << 20}, "identity:events", logger.New("test"), nil)
	h.now = s.verifier.now
	router := chi.NewRouter()
	h.Register(router)

	body := s.marshal(s.validEvent())
	ts := strconv.FormatInt(s.now.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/identity", bytes.NewReader(body))
	req.Header.Set("X-Signature", s.verifier.Sign(body, ts))
	req.Header.Set("X-Timestamp", ts)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	s.Equal(http.StatusServiceUnavailable, rec.Code)
}

type failingBroker struct {
	stream.Broker
}

func (failingBroker) Append(context.Context, string, map[string]string) (string, error) {
	return "", context.DeadlineExceeded
}
