package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"dealflow/internal/config"
	"dealflow/internal/domain"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu  sync.Mutex
	got []domain.Notification
}

func (r *recorder) Observe(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	r.got = append(r.got, n)
	r.mu.Unlock()
	return nil
}

func TestNotifyReachesObserversInOrder(t *testing.T) {
	s := New(Options{})
	rec := &recorder{}
	s.Attach("rec", rec)
	s.Notify(context.Background(), domain.Notification{Kind: "a", Message: "first", Severity: domain.SeveritySuccess})
	s.Notify(context.Background(), domain.Notification{Kind: "b", Message: "second"})
	s.Close()

	require.Len(t, rec.got, 2)
	assert.Equal(t, "first", rec.got[0].Message)
	assert.Equal(t, domain.SeverityInfo, rec.got[1].Severity)
	assert.NotEmpty(t, rec.got[0].ID)
}

func TestFailingObserverDoesNotAffectOthers(t *testing.T) {
	s := New(Options{})
	rec := &recorder{}
	s.Attach("broken", ObserverFunc(func(context.Context, domain.Notification) error { return errors.New("down") }))
	s.Attach("panicky", ObserverFunc(func(context.Context, domain.Notification) error { panic("boom") }))
	s.Attach("rec", rec)

	n := s.Notify(context.Background(), domain.Notification{Kind: "x", Message: "hello"})
	s.Close()
	assert.Equal(t, "hello", n.Message)
	assert.Len(t, rec.got, 1)
}

func TestActiveExpiresAfterDisplay(t *testing.T) {
	c := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := New(Options{Now: c.Now})
	defer s.Close()

	n := s.Notify(context.Background(), domain.Notification{Message: "toast"})
	assert.Equal(t, "2024-01-01T12:00:04Z", n.ExpiresAt)
	assert.Len(t, s.Active(), 1)

	c.Advance(3 * time.Second)
	assert.Len(t, s.Active(), 1)
	c.Advance(time.Second)
	assert.Empty(t, s.Active())
}

func TestSubscribeSeesNotifications(t *testing.T) {
	s := New(Options{})
	defer s.Close()
	ch, cancel := s.Subscribe(1)
	defer cancel()
	s.Notify(context.Background(), domain.Notification{Kind: domain.NotifyDealWon, Celebrate: true})
	got := <-ch
	assert.True(t, got.Celebrate)
}

func TestNotifyAfterCloseStillShows(t *testing.T) {
	s := New(Options{})
	s.Close()
	s.Close()
	s.Notify(context.Background(), domain.Notification{Message: "late"})
	assert.Len(t, s.Active(), 1)
}

func TestMailerFiltersKinds(t *testing.T) {
	m := NewMailer(config.MailConfig{Host: "smtp.example.com", Port: 587, From: "bot@example.com", To: []string{"sales@example.com"}})
	var sent []*gomail.Message
	m.Send = func(msg *gomail.Message) error {
		sent = append(sent, msg)
		return nil
	}
	ctx := context.Background()
	require.NoError(t, m.Observe(ctx, domain.Notification{Kind: domain.NotifyDealMoved, Message: "moved"}))
	require.NoError(t, m.Observe(ctx, domain.Notification{Kind: domain.NotifyDealWon, Message: "Deal closed as Won! 🎉", Icon: "🏆"}))
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"🏆 Deal closed as Won! 🎉"}, sent[0].GetHeader("Subject"))
	assert.Equal(t, []string{"sales@example.com"}, sent[0].GetHeader("To"))
}

type fakeChannel struct {
	exchange, key string
	msg           amqp.Publishing
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func TestAMQPPublisherRoutesByKind(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPPublisher{Ch: ch, Exchange: "dealflow.notifications"}
	require.NoError(t, p.Observe(context.Background(), domain.Notification{ID: "n1", Kind: domain.NotifyDealDeleted, Message: "gone"}))
	assert.Equal(t, "dealflow.notifications", ch.exchange)
	assert.Equal(t, domain.NotifyDealDeleted, ch.key)
	assert.Equal(t, "n1", ch.msg.MessageId)
	assert.Contains(t, string(ch.msg.Body), `"message":"gone"`)
	assert.NoError(t, p.Close())
}
