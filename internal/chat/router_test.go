package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AvinashSuthar/chat-backend/internal/models"
	"github.com/AvinashSuthar/chat-backend/internal/storage"
)

type recordedDelivery struct {
	connectionID string
	message      models.Message
}

type fakeDeliverer struct {
	mu         sync.Mutex
	deliveries []recordedDelivery
	fail       map[string]error
}

func (d *fakeDeliverer) Deliver(connectionID string, message models.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.fail[connectionID]; ok {
		return err
	}
	d.deliveries = append(d.deliveries, recordedDelivery{connectionID: connectionID, message: message})
	return nil
}

func (d *fakeDeliverer) recorded() []recordedDelivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]recordedDelivery(nil), d.deliveries...)
}

type routerFixture struct {
	store     *storage.Storage
	presence  *Registry
	deliverer *fakeDeliverer
	router    *Router
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "chat.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	presence := NewRegistry(nil)
	deliverer := &fakeDeliverer{}
	router := NewRouter(RouterConfig{
		Store:      store,
		Membership: NewMembershipCache(store, 0),
		Presence:   presence,
		Deliverer:  deliverer,
	})
	return &routerFixture{store: store, presence: presence, deliverer: deliverer, router: router}
}

func (f *routerFixture) createUser(t *testing.T, email string) models.User {
	t.Helper()
	user, err := f.store.CreateUser(storage.CreateUserParams{Email: email, Password: "correct-horse"})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return user
}

func TestRouterDirectDeliversAfterCommit(t *testing.T) {
	f := newRouterFixture(t)
	sender := f.createUser(t, "sender@example.com")
	recipient := f.createUser(t, "recipient@example.com")

	if err := f.presence.Register(recipient.ID, "conn-r1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := f.presence.Register(recipient.ID, "conn-r2"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ack, err := f.router.SendDirect(context.Background(), sender.ID, recipient.ID, Draft{Type: models.MessageTypeText, Content: "hello"})
	if err != nil {
		t.Fatalf("SendDirect: %v", err)
	}
	if ack.Seq != 1 {
		t.Fatalf("expected first message to carry seq 1, got %d", ack.Seq)
	}

	history, err := f.store.ListDirectMessages(sender.ID, recipient.ID, 0)
	if err != nil {
		t.Fatalf("ListDirectMessages: %v", err)
	}
	if len(history) != 1 || history[0].ID != ack.ID {
		t.Fatalf("commit must precede fan-out, history=%v", history)
	}

	deliveries := f.deliverer.recorded()
	if len(deliveries) != 2 {
		t.Fatalf("expected one delivery per live connection, got %d", len(deliveries))
	}
	for _, d := range deliveries {
		if d.message.ID != ack.ID {
			t.Fatalf("delivered message %s does not match ack %s", d.message.ID, ack.ID)
		}
	}
}

func TestRouterOfflineRecipientStillCommits(t *testing.T) {
	f := newRouterFixture(t)
	sender := f.createUser(t, "sender@example.com")
	recipient := f.createUser(t, "recipient@example.com")

	ack, err := f.router.SendDirect(context.Background(), sender.ID, recipient.ID, Draft{Type: models.MessageTypeText, Content: "are you there?"})
	if err != nil {
		t.Fatalf("SendDirect: %v", err)
	}
	if len(f.deliverer.recorded()) != 0 {
		t.Fatal("offline recipient must receive no live deliveries")
	}

	history, err := f.store.ListDirectMessages(recipient.ID, sender.ID, 0)
	if err != nil {
		t.Fatalf("ListDirectMessages: %v", err)
	}
	if len(history) != 1 || history[0].ID != ack.ID {
		t.Fatalf("message must be durable despite offline recipient, history=%v", history)
	}
}

func TestRouterSenderExcludedFromFanout(t *testing.T) {
	f := newRouterFixture(t)
	admin := f.createUser(t, "admin@example.com")
	member := f.createUser(t, "member@example.com")
	channel, err := f.store.CreateChannel(admin.ID, "general", []string{member.ID})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	if err := f.presence.Register(admin.ID, "conn-admin"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := f.presence.Register(member.ID, "conn-member"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ack, err := f.router.SendToChannel(context.Background(), admin.ID, channel.ID, Draft{Type: models.MessageTypeText, Content: "welcome"})
	if err != nil {
		t.Fatalf("SendToChannel: %v", err)
	}

	deliveries := f.deliverer.recorded()
	if len(deliveries) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(deliveries))
	}
	if deliveries[0].connectionID != "conn-member" {
		t.Fatalf("sender connection must be excluded, delivered to %s", deliveries[0].connectionID)
	}
	if deliveries[0].message.ID != ack.ID {
		t.Fatalf("delivered message %s does not match ack %s", deliveries[0].message.ID, ack.ID)
	}
}

func TestRouterNonMemberRejectedWithoutAppend(t *testing.T) {
	f := newRouterFixture(t)
	admin := f.createUser(t, "admin@example.com")
	member := f.createUser(t, "member@example.com")
	outsider := f.createUser(t, "outsider@example.com")
	channel, err := f.store.CreateChannel(admin.ID, "private", []string{member.ID})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	_, err = f.router.SendToChannel(context.Background(), outsider.ID, channel.ID, Draft{Type: models.MessageTypeText, Content: "let me in"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	history, err := f.store.ListChannelMessages(channel.ID, 0)
	if err != nil {
		t.Fatalf("ListChannelMessages: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("rejected send must leave no history entry, got %d", len(history))
	}
	if len(f.deliverer.recorded()) != 0 {
		t.Fatal("rejected send must trigger no deliveries")
	}
}

func TestRouterUnknownChannelFailsClosed(t *testing.T) {
	f := newRouterFixture(t)
	sender := f.createUser(t, "sender@example.com")

	_, err := f.router.SendToChannel(context.Background(), sender.ID, "no-such-channel", Draft{Type: models.MessageTypeText, Content: "hello?"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("membership lookup failures must report unauthorized, got %v", err)
	}
}

type failingStore struct {
	err error
}

func (s *failingStore) AppendMessage(storage.AppendMessageParams) (models.Message, error) {
	return models.Message{}, s.err
}

func TestRouterPersistenceFailureBlocksFanout(t *testing.T) {
	deliverer := &fakeDeliverer{}
	presence := NewRegistry(nil)
	if err := presence.Register("user-b", "conn-b"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	router := NewRouter(RouterConfig{
		Store:     &failingStore{err: errors.New("disk full")},
		Presence:  presence,
		Deliverer: deliverer,
	})

	_, err := router.SendDirect(context.Background(), "user-a", "user-b", Draft{Type: models.MessageTypeText, Content: "hello"})
	var persistErr *PersistenceError
	if !errors.As(err, &persistErr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if len(deliverer.recorded()) != 0 {
		t.Fatal("failed append must suppress every delivery")
	}
}

type slowStore struct {
	delay time.Duration
}

func (s *slowStore) AppendMessage(storage.AppendMessageParams) (models.Message, error) {
	time.Sleep(s.delay)
	return models.Message{ID: "late"}, nil
}

func TestRouterAppendTimeout(t *testing.T) {
	router := NewRouter(RouterConfig{
		Store:         &slowStore{delay: 200 * time.Millisecond},
		Presence:      NewRegistry(nil),
		AppendTimeout: 10 * time.Millisecond,
	})

	_, err := router.SendDirect(context.Background(), "user-a", "user-b", Draft{Type: models.MessageTypeText, Content: "hello"})
	var persistErr *PersistenceError
	if !errors.As(err, &persistErr) {
		t.Fatalf("expected PersistenceError on timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout cause must unwrap, got %v", err)
	}
}

func TestRouterDeliveryFailureIsWarningNotError(t *testing.T) {
	f := newRouterFixture(t)
	sender := f.createUser(t, "sender@example.com")
	recipient := f.createUser(t, "recipient@example.com")

	if err := f.presence.Register(recipient.ID, "conn-bad"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := f.presence.Register(recipient.ID, "conn-good"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	f.deliverer.fail = map[string]error{"conn-bad": errors.New("send buffer full")}

	ack, err := f.router.SendDirect(context.Background(), sender.ID, recipient.ID, Draft{Type: models.MessageTypeText, Content: "hello"})
	if err != nil {
		t.Fatalf("a delivery failure must not fail the send: %v", err)
	}

	deliveries := f.deliverer.recorded()
	if len(deliveries) != 1 || deliveries[0].connectionID != "conn-good" {
		t.Fatalf("healthy connection must still receive the message, got %v", deliveries)
	}
	if deliveries[0].message.ID != ack.ID {
		t.Fatalf("delivered message %s does not match ack %s", deliveries[0].message.ID, ack.ID)
	}
}

func TestRouterInvalidDraftRejected(t *testing.T) {
	f := newRouterFixture(t)
	sender := f.createUser(t, "sender@example.com")
	recipient := f.createUser(t, "recipient@example.com")

	_, err := f.router.SendDirect(context.Background(), sender.ID, recipient.ID, Draft{Type: models.MessageTypeText, Content: "   "})
	if !errors.Is(err, storage.ErrInvalidMessage) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(f.deliverer.recorded()) != 0 {
		t.Fatal("invalid draft must trigger no deliveries")
	}
}

func TestRouterConcurrentSendsSerialize(t *testing.T) {
	f := newRouterFixture(t)
	admin := f.createUser(t, "admin@example.com")
	member := f.createUser(t, "member@example.com")
	channel, err := f.store.CreateChannel(admin.ID, "busy", []string{member.ID})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	const sends = 20
	var wg sync.WaitGroup
	errs := make(chan error, sends)
	for i := 0; i < sends; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.router.SendToChannel(context.Background(), admin.ID, channel.ID, Draft{
				Type:    models.MessageTypeText,
				Content: fmt.Sprintf("message %d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("SendToChannel: %v", err)
		}
	}

	history, err := f.store.ListChannelMessages(channel.ID, 0)
	if err != nil {
		t.Fatalf("ListChannelMessages: %v", err)
	}
	if len(history) != sends {
		t.Fatalf("expected %d messages, got %d", sends, len(history))
	}
	for i, message := range history {
		if message.Seq != uint64(i+1) {
			t.Fatalf("sequence gap at index %d: got %d", i, message.Seq)
		}
	}
}
