package delivery

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/go-cmp/cmp"

	"github.com/nhle/mailchain-connector-imap/internal/convert"
	"github.com/nhle/mailchain-connector-imap/internal/mailbox"
	"github.com/nhle/mailchain-connector-imap/internal/model"
	"github.com/nhle/mailchain-connector-imap/internal/store"
	"github.com/nhle/mailchain-connector-imap/tests/testutil"
)

type appendCall struct {
	folder string
	date   time.Time
}

// fakeServer holds mailbox state shared by every session it hands out.
type fakeServer struct {
	folders  map[string][]string // folder -> message ids
	creates  []string
	appends  []appendCall
	connects int
	listings int // full folder listings

	connectErr error
	appendErr  error
	emptyList  bool
}

func newFakeServer(folders ...string) *fakeServer {
	s := &fakeServer{folders: make(map[string][]string)}
	for _, f := range folders {
		s.folders[f] = nil
	}
	return s
}

func (s *fakeServer) Connect(context.Context) (Session, error) {
	if s.connectErr != nil {
		return nil, s.connectErr
	}
	s.connects++
	return &fakeSession{server: s}, nil
}

type fakeSession struct {
	server    *fakeServer
	selected  string
	broken    bool
	loggedOut bool
}

func (s *fakeSession) List(_ context.Context, _, pattern string) ([]mailbox.Info, error) {
	if s.broken || s.loggedOut {
		return nil, errors.New("connection closed")
	}
	if pattern == "*" {
		s.server.listings++
	}
	if s.server.emptyList {
		return nil, nil
	}
	var names []string
	for name := range s.server.folders {
		if pattern == "*" || name == pattern {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]mailbox.Info, 0, len(names))
	for _, name := range names {
		out = append(out, mailbox.Info{Name: name, Delim: '/'})
	}
	return out, nil
}

func (s *fakeSession) Create(_ context.Context, name string) error {
	if _, ok := s.server.folders[name]; ok {
		return errors.New("NO [ALREADYEXISTS]")
	}
	s.server.creates = append(s.server.creates, name)
	s.server.folders[name] = nil
	return nil
}

func (s *fakeSession) Select(_ context.Context, name string) error {
	if _, ok := s.server.folders[name]; !ok {
		return errors.New("NO [NONEXISTENT]")
	}
	s.selected = name
	return nil
}

func (s *fakeSession) HasMessageID(_ context.Context, id string) (bool, error) {
	for _, existing := range s.server.folders[s.selected] {
		if existing == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeSession) Append(_ context.Context, name string, raw []byte, date time.Time) error {
	if s.server.appendErr != nil {
		return s.server.appendErr
	}
	r, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	id, err := r.Header.MessageID()
	if err != nil {
		return err
	}
	s.server.appends = append(s.server.appends, appendCall{folder: name, date: date})
	s.server.folders[name] = append(s.server.folders[name], id)
	return nil
}

func (s *fakeSession) Logout() error {
	s.loggedOut = true
	return nil
}

type fakeLedger struct {
	delivered map[string]bool
	readErr   error
	writeErr  error
}

func (l *fakeLedger) IsDelivered(_ context.Context, id string) (bool, error) {
	if l.readErr != nil {
		return false, l.readErr
	}
	return l.delivered[id], nil
}

func (l *fakeLedger) MarkDelivered(_ context.Context, id string) error {
	if l.writeErr != nil {
		return l.writeErr
	}
	if l.delivered == nil {
		l.delivered = make(map[string]bool)
	}
	l.delivered[id] = true
	return nil
}

var ropsten = model.Target{Protocol: "ethereum", Network: "ropsten", Address: "abc123"}

func testEmail(id string) *convert.Email {
	return convert.Convert(model.Message{
		Status:  model.StatusOK,
		Subject: "hi",
		Body:    "body",
		Headers: model.MessageHeaders{
			From:      "<0x1@ropsten.ethereum>",
			To:        "<0xabc123@ropsten.ethereum>",
			Date:      "Mon, 02 Mar 2020 10:04:05 +0000",
			MessageID: id,
		},
	})
}

func deliver(t *testing.T, d *Deliverer, id string) (Result, error) {
	t.Helper()
	return d.Deliver(context.Background(), ropsten, testEmail(id), id)
}

func newTestDeliverer(server *fakeServer, ledger store.Ledger) *Deliverer {
	return NewDeliverer(server, ledger, mailbox.NewRouter(model.FolderByAddress, false), nil)
}

func TestDeliverIsIdempotent(t *testing.T) {
	server := newFakeServer("Inbox")
	ledger := testutil.NewTestStore(t)
	d := newTestDeliverer(server, ledger)

	first, err := deliver(t, d, "m1@mailchain")
	if err != nil {
		t.Fatalf("first Deliver: %v", err)
	}
	second, err := deliver(t, d, "m1@mailchain")
	if err != nil {
		t.Fatalf("second Deliver: %v", err)
	}

	if first != Appended || second != AlreadyDelivered {
		t.Errorf("results = %v, %v; want appended, already delivered", first, second)
	}
	if len(server.appends) != 1 {
		t.Errorf("appends = %d, want 1", len(server.appends))
	}
	n, err := ledger.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("ledger entries = %d, want 1", n)
	}
}

func TestDeliverProvisionsAndUsesMessageDate(t *testing.T) {
	server := newFakeServer("Inbox")
	d := newTestDeliverer(server, &fakeLedger{})

	if _, err := deliver(t, d, "m1@mailchain"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	wantCreates := []string{
		"Inbox/0xabc123",
		"Inbox/0xabc123/ethereum",
		"Inbox/0xabc123/ethereum/ropsten",
	}
	if diff := cmp.Diff(wantCreates, server.creates); diff != "" {
		t.Errorf("creates mismatch (-want +got):\n%s", diff)
	}

	want := appendCall{
		folder: "Inbox/0xabc123/ethereum/ropsten",
		date:   time.Date(2020, 3, 2, 10, 4, 5, 0, time.UTC),
	}
	if len(server.appends) != 1 {
		t.Fatalf("appends = %d, want 1", len(server.appends))
	}
	got := server.appends[0]
	if got.folder != want.folder || !got.date.Equal(want.date) {
		t.Errorf("append = %+v, want %+v", got, want)
	}
}

func TestDeliverSkipsMessageAlreadyInFolder(t *testing.T) {
	server := newFakeServer("Inbox")
	server.folders["Inbox/0xabc123/ethereum/ropsten"] = []string{"m1@mailchain"}
	server.folders["Inbox/0xabc123/ethereum"] = nil
	server.folders["Inbox/0xabc123"] = nil
	ledger := &fakeLedger{}
	d := newTestDeliverer(server, ledger)

	res, err := deliver(t, d, "m1@mailchain")
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if res != AlreadyPresent {
		t.Errorf("result = %v, want already present", res)
	}
	if len(server.appends) != 0 {
		t.Errorf("appended %d messages, want 0", len(server.appends))
	}
	if !ledger.delivered["m1@mailchain"] {
		t.Error("message already in folder was not recorded in the ledger")
	}
}

func TestDeliverAppendFailureLeavesLedgerUntouched(t *testing.T) {
	server := newFakeServer("Inbox")
	server.appendErr = errors.New("NO [OVERQUOTA]")
	ledger := &fakeLedger{}
	d := newTestDeliverer(server, ledger)

	_, err := deliver(t, d, "m1@mailchain")
	if err == nil {
		t.Fatal("Deliver succeeded with a failing append")
	}
	if !model.IsKind(err, model.KindProtocol) {
		t.Errorf("error kind = %v, want protocol", model.KindOf(err))
	}
	if ledger.delivered["m1@mailchain"] {
		t.Error("failed delivery was recorded in the ledger")
	}
	if d.State() != Disconnected {
		t.Errorf("state = %v, want disconnected", d.State())
	}

	server.appendErr = nil
	if _, err := deliver(t, d, "m1@mailchain"); err != nil {
		t.Fatalf("retry Deliver: %v", err)
	}
	if server.connects != 2 {
		t.Errorf("connects = %d, want 2", server.connects)
	}
	if !ledger.delivered["m1@mailchain"] {
		t.Error("retried delivery was not recorded")
	}
}

func TestDeliverConnectFailureIsTransient(t *testing.T) {
	server := newFakeServer("Inbox")
	server.connectErr = &AuthError{Username: "me", Err: errors.New("NO")}
	ledger := &fakeLedger{}
	d := newTestDeliverer(server, ledger)

	_, err := deliver(t, d, "m1@mailchain")
	if !model.IsKind(err, model.KindTransient) {
		t.Fatalf("error = %v, want transient", err)
	}
	if !IsAuthError(err) {
		t.Errorf("IsAuthError(%v) = false", err)
	}
	if d.State() != Disconnected {
		t.Errorf("state = %v, want disconnected", d.State())
	}
	if len(ledger.delivered) != 0 {
		t.Error("ledger written after failed connect")
	}
}

func TestDeliverLedgerFailures(t *testing.T) {
	readFail := &fakeLedger{readErr: model.Errorf(model.KindStorage, "reading ledger", "disk I/O error")}
	server := newFakeServer("Inbox")
	d := newTestDeliverer(server, readFail)
	if _, err := deliver(t, d, "m1@mailchain"); !model.IsKind(err, model.KindStorage) {
		t.Errorf("read failure: error = %v, want storage", err)
	}
	if len(server.appends) != 0 {
		t.Error("appended despite unreadable ledger")
	}

	writeFail := &fakeLedger{writeErr: model.Errorf(model.KindStorage, "writing ledger", "disk full")}
	server = newFakeServer("Inbox")
	d = newTestDeliverer(server, writeFail)
	if _, err := deliver(t, d, "m1@mailchain"); !model.IsKind(err, model.KindStorage) {
		t.Errorf("write failure: error = %v, want storage", err)
	}
	if writeFail.delivered["m1@mailchain"] {
		t.Error("message marked delivered after failed write")
	}
}

func TestEnsureConnectedReconnectsStaleSession(t *testing.T) {
	server := newFakeServer("Inbox")
	d := newTestDeliverer(server, &fakeLedger{})
	ctx := context.Background()

	if err := d.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if d.State() != ConnectedAuthenticated {
		t.Fatalf("state = %v, want connected", d.State())
	}

	// A live session is reused.
	if err := d.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	if server.connects != 1 {
		t.Errorf("connects = %d, want 1", server.connects)
	}

	d.session.(*fakeSession).broken = true
	if err := d.Ping(ctx); err != nil {
		t.Fatalf("Ping after break: %v", err)
	}
	if server.connects != 2 {
		t.Errorf("connects = %d, want 2", server.connects)
	}
}

func TestDeliverReusesRecentlyCheckedSession(t *testing.T) {
	server := newFakeServer("Inbox")
	d := newTestDeliverer(server, &fakeLedger{})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	if err := d.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	for _, id := range []string{"m1@mailchain", "m2@mailchain"} {
		if _, err := deliver(t, d, id); err != nil {
			t.Fatalf("Deliver %s: %v", id, err)
		}
	}
	if server.listings != 1 {
		t.Errorf("listings after two deliveries = %d, want 1", server.listings)
	}

	// An idle session is checked again before the next append.
	now = now.Add(sessionFreshness + time.Second)
	if _, err := deliver(t, d, "m3@mailchain"); err != nil {
		t.Fatalf("Deliver m3: %v", err)
	}
	if server.listings != 2 {
		t.Errorf("listings after idle delivery = %d, want 2", server.listings)
	}

	// Ping at the start of a tick always checks.
	if err := d.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	if server.listings != 3 {
		t.Errorf("listings after Ping = %d, want 3", server.listings)
	}
	if server.connects != 1 {
		t.Errorf("connects = %d, want 1", server.connects)
	}
}

func TestEnsureConnectedRejectsEmptyListing(t *testing.T) {
	server := newFakeServer()
	server.emptyList = true
	d := newTestDeliverer(server, &fakeLedger{})

	err := d.Ping(context.Background())
	if !model.IsKind(err, model.KindTransient) {
		t.Fatalf("Ping error = %v, want transient", err)
	}
	if d.State() != Disconnected {
		t.Errorf("state = %v, want disconnected", d.State())
	}
}

func TestDeliverRejectsMissingMessageID(t *testing.T) {
	d := newTestDeliverer(newFakeServer("Inbox"), &fakeLedger{})
	_, err := d.Deliver(context.Background(), ropsten, testEmail(""), "")
	if !model.IsKind(err, model.KindProtocol) {
		t.Errorf("error = %v, want protocol", err)
	}
}
