package chat

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lanchat/lanchat/internal/protocol/tlv"
	"github.com/lanchat/lanchat/pkg/runtime"
)

// fakeSender captures group fan-outs instead of touching the network.
type fakeSender struct {
	mu    sync.Mutex
	sends []string
}

func (f *fakeSender) Send(addr string, port uint16, group, login, display, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends,
		addr+":"+"["+group+"] <"+login+"> "+display+" : "+message)
	return nil
}

func (f *fakeSender) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
}

type env struct {
	rt    *runtime.Runtime
	mcast *fakeSender
}

func newEnv(t *testing.T) *env {
	t.Helper()
	rt, err := runtime.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &env{rt: rt, mcast: &fakeSender{}}
}

// client drives one session over a synchronous pipe; the server side runs
// the real Connection.Serve loop.
type client struct {
	t    *testing.T
	conn net.Conn
}

func (e *env) dial(t *testing.T) *client {
	t.Helper()
	clientSide, serverSide := net.Pipe()

	c := &Connection{
		id:    uuid.NewString(),
		conn:  serverSide,
		rt:    e.rt,
		mcast: e.mcast,
	}
	go c.Serve(context.Background())

	t.Cleanup(func() { _ = clientSide.Close() })
	return &client{t: t, conn: clientSide}
}

func (c *client) send(typ uint16, payload string) {
	c.t.Helper()
	c.conn.SetDeadline(time.Now().Add(5 * time.Second))
	if err := tlv.WriteRecord(c.conn, typ, []byte(payload)); err != nil {
		c.t.Fatalf("write record %d: %v", typ, err)
	}
}

func (c *client) cmd(cmd tlv.Command) {
	c.t.Helper()
	c.conn.SetDeadline(time.Now().Add(5 * time.Second))
	if err := tlv.WriteCommand(c.conn, cmd); err != nil {
		c.t.Fatalf("write command %v: %v", cmd, err)
	}
}

func (c *client) read() (uint16, []byte) {
	c.t.Helper()
	c.conn.SetDeadline(time.Now().Add(5 * time.Second))
	typ, payload, err := tlv.ReadRecord(c.conn)
	if err != nil {
		c.t.Fatalf("read record: %v", err)
	}
	return typ, payload
}

func (c *client) status() tlv.Status {
	c.t.Helper()
	typ, payload := c.read()
	if typ != tlv.TypeStatus {
		c.t.Fatalf("record type = %d, want STATUS", typ)
	}
	st, err := tlv.ParseStatus(payload)
	if err != nil {
		c.t.Fatal(err)
	}
	return st
}

func (c *client) createAccount(login, password, display string) {
	c.t.Helper()
	c.cmd(tlv.CmdCreateAccount)
	c.send(tlv.TypeLogin, login)
	c.send(tlv.TypePassword, password)
	c.send(tlv.TypeUsername, display)
	if st := c.status(); st != tlv.StatusOK {
		c.t.Fatalf("CREATE_ACCOUNT status = %v", st)
	}
}

// login performs LOGIN and consumes the trailing GROUP_INFO records.
func (c *client) login(login, password string, wantGroups int) tlv.Status {
	c.t.Helper()
	c.cmd(tlv.CmdLogin)
	c.send(tlv.TypeLogin, login)
	c.send(tlv.TypePassword, password)
	st := c.status()
	if st != tlv.StatusOK {
		return st
	}
	for i := 0; i < wantGroups; i++ {
		typ, payload := c.read()
		if typ != tlv.TypeGroupInfo {
			c.t.Fatalf("post-login record %d type = %d, want GROUP_INFO", i, typ)
		}
		if _, err := tlv.UnmarshalGroupInfo(payload); err != nil {
			c.t.Fatal(err)
		}
	}
	return st
}

func TestCreateAccountAndLogin(t *testing.T) {
	e := newEnv(t)
	c := e.dial(t)

	c.createAccount("alice", "pw", "Alice")
	if st := c.login("alice", "pw", 0); st != tlv.StatusOK {
		t.Fatalf("login status = %v", st)
	}

	// Wrong password on a fresh connection.
	c2 := e.dial(t)
	c2.cmd(tlv.CmdLogin)
	c2.send(tlv.TypeLogin, "alice2")
	c2.send(tlv.TypePassword, "nope")
	if st := c2.status(); st != tlv.StatusAuthenticationError {
		t.Errorf("unknown user login status = %v, want AUTHENTICATION_ERROR", st)
	}
}

func TestDuplicateLoginRefused(t *testing.T) {
	e := newEnv(t)
	c1 := e.dial(t)
	c1.createAccount("alice", "pw", "Alice")
	if st := c1.login("alice", "pw", 0); st != tlv.StatusOK {
		t.Fatal(st)
	}

	c2 := e.dial(t)
	if st := c2.login("alice", "pw", 0); st != tlv.StatusAlreadyLoggedIn {
		t.Errorf("second login status = %v, want ALREADY_LOGGED_IN", st)
	}
}

func TestDirectMessageRelay(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t)
	alice.createAccount("alice", "pw", "Alice")
	alice.login("alice", "pw", 0)

	bob := e.dial(t)
	bob.createAccount("bob", "pw", "Bob")
	bob.login("bob", "pw", 0)

	alice.cmd(tlv.CmdSendToUser)
	alice.send(tlv.TypeLogin, "bob")
	alice.send(tlv.TypeMessage, "hi")

	// Bob receives the three-record unit in order.
	typ, payload := bob.read()
	if typ != tlv.TypeLogin || string(payload) != "alice" {
		t.Fatalf("record 1 = (%d, %q)", typ, payload)
	}
	typ, payload = bob.read()
	if typ != tlv.TypeUsername || string(payload) != "Alice" {
		t.Fatalf("record 2 = (%d, %q)", typ, payload)
	}
	typ, payload = bob.read()
	if typ != tlv.TypeMessage || string(payload) != "hi" {
		t.Fatalf("record 3 = (%d, %q)", typ, payload)
	}

	if st := alice.status(); st != tlv.StatusOK {
		t.Fatalf("sender status = %v", st)
	}

	data, err := os.ReadFile(filepath.Join(e.rt.History.Dir(), "alice_bob"))
	if err != nil {
		t.Fatalf("history file: %v", err)
	}
	re := regexp.MustCompile(`^\d{4}-\d\d-\d\d \d\d:\d\d:\d\d <alice> Alice : hi\n$`)
	if !re.Match(data) {
		t.Errorf("history line = %q", data)
	}
}

func TestDirectMessageOfflineTarget(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t)
	alice.createAccount("alice", "pw", "Alice")
	alice.login("alice", "pw", 0)

	alice.cmd(tlv.CmdSendToUser)
	alice.send(tlv.TypeLogin, "carol")
	alice.send(tlv.TypeMessage, "anyone there")
	if st := alice.status(); st != tlv.StatusUserNotFound {
		t.Fatalf("status = %v, want USER_NOT_FOUND", st)
	}

	if _, err := os.Stat(filepath.Join(e.rt.History.Dir(), "alice_carol")); !os.IsNotExist(err) {
		t.Error("history file created for undelivered message")
	}
}

func TestGroupLifecycleAndBroadcast(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t)
	alice.createAccount("alice", "pw", "Alice")
	alice.login("alice", "pw", 0)

	alice.cmd(tlv.CmdCreateGroup)
	alice.send(tlv.TypeGroupName, "devs")
	if st := alice.status(); st != tlv.StatusOK {
		t.Fatal(st)
	}
	typ, payload := alice.read()
	if typ != tlv.TypeGroupInfo {
		t.Fatalf("record type = %d, want GROUP_INFO", typ)
	}
	info, err := tlv.UnmarshalGroupInfo(payload)
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "devs" || info.McastAddr != "239.0.0.2" || info.McastPort != 7001 || info.ID != 1 {
		t.Fatalf("group info = %+v", info)
	}

	// Creator joining again is reported, not re-added.
	alice.cmd(tlv.CmdJoinGroup)
	alice.send(tlv.TypeGroupName, "devs")
	if st := alice.status(); st != tlv.StatusAlreadyInGroup {
		t.Fatalf("creator join status = %v, want ALREADY_IN_GROUP", st)
	}

	bob := e.dial(t)
	bob.createAccount("bob", "pw", "Bob")
	bob.login("bob", "pw", 0)
	bob.cmd(tlv.CmdJoinGroup)
	bob.send(tlv.TypeGroupName, "devs")
	if st := bob.status(); st != tlv.StatusOK {
		t.Fatal(st)
	}
	typ, payload = bob.read()
	if typ != tlv.TypeGroupInfo {
		t.Fatalf("record type = %d, want GROUP_INFO", typ)
	}
	joined, err := tlv.UnmarshalGroupInfo(payload)
	if err != nil {
		t.Fatal(err)
	}
	if *joined != *info {
		t.Fatalf("joined info = %+v, want %+v", joined, info)
	}

	alice.cmd(tlv.CmdSendToGroup)
	alice.send(tlv.TypeGroupName, "devs")
	alice.send(tlv.TypeMessage, "hello")
	if st := alice.status(); st != tlv.StatusOK {
		t.Fatal(st)
	}

	sends := e.mcast.all()
	if len(sends) != 1 || sends[0] != "239.0.0.2:[devs] <alice> Alice : hello" {
		t.Errorf("fan-out = %v", sends)
	}
	if _, err := os.Stat(filepath.Join(e.rt.History.Dir(), "devs")); err != nil {
		t.Errorf("group history not written: %v", err)
	}
}

func TestGroupSendRequiresMembership(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t)
	alice.createAccount("alice", "pw", "Alice")
	alice.login("alice", "pw", 0)
	alice.cmd(tlv.CmdCreateGroup)
	alice.send(tlv.TypeGroupName, "devs")
	alice.status()
	alice.read() // GROUP_INFO

	mallory := e.dial(t)
	mallory.createAccount("mallory", "pw", "Mallory")
	mallory.login("mallory", "pw", 0)

	mallory.cmd(tlv.CmdSendToGroup)
	mallory.send(tlv.TypeGroupName, "devs")
	mallory.send(tlv.TypeMessage, "let me in")
	if st := mallory.status(); st != tlv.StatusError {
		t.Errorf("non-member send status = %v, want ERROR", st)
	}

	mallory.cmd(tlv.CmdSendToGroup)
	mallory.send(tlv.TypeGroupName, "nope")
	mallory.send(tlv.TypeMessage, "hello")
	if st := mallory.status(); st != tlv.StatusGroupNotFound {
		t.Errorf("missing group status = %v, want GROUP_NOT_FOUND", st)
	}

	if len(e.mcast.all()) != 0 {
		t.Error("datagram sent for refused message")
	}
}

func TestLoginEmitsGroupInfos(t *testing.T) {
	e := newEnv(t)
	c := e.dial(t)
	c.createAccount("alice", "pw", "Alice")
	c.login("alice", "pw", 0)
	c.cmd(tlv.CmdCreateGroup)
	c.send(tlv.TypeGroupName, "devs")
	c.status()
	c.read()

	c.cmd(tlv.CmdLogout)
	if st := c.status(); st != tlv.StatusOK {
		t.Fatal(st)
	}

	if st := c.login("alice", "pw", 1); st != tlv.StatusOK {
		t.Fatalf("re-login status = %v", st)
	}
}

func TestGetActiveUsers(t *testing.T) {
	e := newEnv(t)
	c := e.dial(t)
	c.createAccount("alice", "pw", "Alice")
	c.login("alice", "pw", 0)

	c.cmd(tlv.CmdGetActiveUsers)
	typ, payload := c.read()
	if typ != tlv.TypeActiveUsers {
		t.Fatalf("record type = %d, want ACTIVE_USERS", typ)
	}
	if string(payload) != "<alice> Alice\n" {
		t.Errorf("listing = %q", payload)
	}
}

func TestGetHistoryLimit(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t)
	alice.createAccount("alice", "pw", "Alice")
	alice.login("alice", "pw", 0)
	bob := e.dial(t)
	bob.createAccount("bob", "pw", "Bob")
	bob.login("bob", "pw", 0)

	messages := []string{"one", "two", "three", "four", "five"}
	for _, m := range messages {
		alice.cmd(tlv.CmdSendToUser)
		alice.send(tlv.TypeLogin, "bob")
		alice.send(tlv.TypeMessage, m)
		bob.read()
		bob.read()
		bob.read()
		if st := alice.status(); st != tlv.StatusOK {
			t.Fatal(st)
		}
	}

	alice.cmd(tlv.CmdGetHistory)
	alice.send(tlv.TypeLogin, "bob")
	var limit [2]byte
	limit[1] = 3
	alice.send(tlv.TypeUint16, string(limit[:]))

	typ, payload := alice.read()
	if typ != tlv.TypeHistory {
		t.Fatalf("record type = %d, want HISTORY", typ)
	}
	lines := strings.Split(strings.TrimRight(string(payload), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3:\n%s", len(lines), payload)
	}
	for i, want := range []string{"three", "four", "five"} {
		if !strings.HasSuffix(lines[i], want) {
			t.Errorf("line %d = %q, want suffix %q", i, lines[i], want)
		}
	}
}

func TestGetHistoryMissingConversation(t *testing.T) {
	e := newEnv(t)
	c := e.dial(t)
	c.createAccount("alice", "pw", "Alice")
	c.login("alice", "pw", 0)

	c.cmd(tlv.CmdGetHistory)
	c.send(tlv.TypeLogin, "stranger")
	c.send(tlv.TypeUint16, "\x00\x00")
	if st := c.status(); st != tlv.StatusError {
		t.Errorf("status = %v, want ERROR", st)
	}
}

func TestChangePasswordAndUsername(t *testing.T) {
	e := newEnv(t)
	c := e.dial(t)
	c.createAccount("alice", "old", "Alice")
	c.login("alice", "old", 0)

	c.cmd(tlv.CmdChangePassword)
	c.send(tlv.TypePassword, "wrong")
	c.send(tlv.TypePassword, "new")
	if st := c.status(); st != tlv.StatusAuthenticationError {
		t.Fatalf("wrong old password status = %v", st)
	}

	c.cmd(tlv.CmdChangePassword)
	c.send(tlv.TypePassword, "old")
	c.send(tlv.TypePassword, "new")
	if st := c.status(); st != tlv.StatusOK {
		t.Fatalf("change password status = %v", st)
	}

	c.cmd(tlv.CmdChangeUsername)
	c.send(tlv.TypeUsername, "Alicia")
	if st := c.status(); st != tlv.StatusOK {
		t.Fatalf("change username status = %v", st)
	}

	// The registry reflects the rename immediately.
	c.cmd(tlv.CmdGetActiveUsers)
	_, payload := c.read()
	if string(payload) != "<alice> Alicia\n" {
		t.Errorf("listing = %q", payload)
	}

	// The new credentials round-trip on a fresh connection.
	c.cmd(tlv.CmdLogout)
	c.status()
	c2 := e.dial(t)
	if st := c2.login("alice", "new", 0); st != tlv.StatusOK {
		t.Errorf("login with new password = %v", st)
	}
}

func TestStrayRecordsDiscarded(t *testing.T) {
	e := newEnv(t)
	c := e.dial(t)

	// Noise outside a command sequence is ignored, then commands work.
	c.send(tlv.TypeMessage, "who dis")
	c.send(tlv.TypeLogin, "nobody")
	c.createAccount("alice", "pw", "Alice")
}

func TestOperandMismatchRecoverable(t *testing.T) {
	e := newEnv(t)
	c := e.dial(t)

	// CREATE_ACCOUNT with a wrong-typed operand fails with ERROR but the
	// session survives.
	c.cmd(tlv.CmdCreateAccount)
	c.send(tlv.TypeLogin, "alice")
	c.send(tlv.TypeMessage, "not a password")
	if st := c.status(); st != tlv.StatusError {
		t.Fatalf("status = %v, want ERROR", st)
	}
	c.createAccount("alice", "pw", "Alice")
}

func TestOperandMismatchFatalForLogin(t *testing.T) {
	e := newEnv(t)
	c := e.dial(t)
	c.createAccount("alice", "pw", "Alice")

	c.cmd(tlv.CmdLogin)
	c.send(tlv.TypeMessage, "not a login")

	// The server tears the session down; the next read observes the close.
	c.conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := tlv.ReadRecord(c.conn); err == nil {
		t.Fatal("expected closed session, got a record")
	}
}

func TestUnauthenticatedCommandsRefused(t *testing.T) {
	e := newEnv(t)
	c := e.dial(t)

	c.cmd(tlv.CmdCreateGroup)
	c.send(tlv.TypeGroupName, "devs")
	if st := c.status(); st != tlv.StatusError {
		t.Errorf("CREATE_GROUP status = %v, want ERROR", st)
	}

	c.cmd(tlv.CmdSendToUser)
	c.send(tlv.TypeLogin, "bob")
	c.send(tlv.TypeMessage, "hi")
	if st := c.status(); st != tlv.StatusError {
		t.Errorf("SEND_TO_USER status = %v, want ERROR", st)
	}
}

func TestUnknownCommand(t *testing.T) {
	e := newEnv(t)
	c := e.dial(t)

	c.cmd(tlv.Command(99))
	if st := c.status(); st != tlv.StatusError {
		t.Errorf("status = %v, want ERROR", st)
	}
}

func TestListGroups(t *testing.T) {
	e := newEnv(t)
	c := e.dial(t)
	c.createAccount("alice", "pw", "Alice")
	c.login("alice", "pw", 0)

	for _, name := range []string{"devs", "ops"} {
		c.cmd(tlv.CmdCreateGroup)
		c.send(tlv.TypeGroupName, name)
		if st := c.status(); st != tlv.StatusOK {
			t.Fatal(st)
		}
		c.read() // GROUP_INFO
	}

	c.cmd(tlv.CmdListGroups)
	typ, payload := c.read()
	if typ != tlv.TypeGroupList {
		t.Fatalf("record type = %d, want GROUP_LIST", typ)
	}
	listing := string(payload)
	if !strings.Contains(listing, "devs\n") || !strings.Contains(listing, "ops\n") {
		t.Errorf("listing = %q", listing)
	}
}

func TestLogoutFreesLogin(t *testing.T) {
	e := newEnv(t)
	c1 := e.dial(t)
	c1.createAccount("alice", "pw", "Alice")
	c1.login("alice", "pw", 0)

	c1.cmd(tlv.CmdLogout)
	if st := c1.status(); st != tlv.StatusOK {
		t.Fatal(st)
	}

	c2 := e.dial(t)
	if st := c2.login("alice", "pw", 0); st != tlv.StatusOK {
		t.Errorf("login after logout = %v", st)
	}
}

func TestDisconnectFreesLogin(t *testing.T) {
	e := newEnv(t)
	c1 := e.dial(t)
	c1.createAccount("alice", "pw", "Alice")
	c1.login("alice", "pw", 0)
	_ = c1.conn.Close()

	// The serve goroutine needs a moment to observe the close.
	deadline := time.Now().Add(2 * time.Second)
	for e.rt.Sessions.IsLoggedIn("alice") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if e.rt.Sessions.IsLoggedIn("alice") {
		t.Fatal("session not cleaned up after disconnect")
	}

	c2 := e.dial(t)
	if st := c2.login("alice", "pw", 0); st != tlv.StatusOK {
		t.Errorf("login after disconnect = %v", st)
	}
}
