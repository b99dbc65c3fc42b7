package chat

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/lanchat/lanchat/internal/logger"
	"github.com/lanchat/lanchat/internal/protocol/tlv"
	"github.com/lanchat/lanchat/pkg/multicast"
	"github.com/lanchat/lanchat/pkg/registry"
	"github.com/lanchat/lanchat/pkg/runtime"
	"github.com/lanchat/lanchat/pkg/store/group"
	"github.com/lanchat/lanchat/pkg/store/history"
	"github.com/lanchat/lanchat/pkg/store/user"
)

// errWrongOperand marks an operand record of the wrong type. The record is
// already consumed when this is returned; whether the session survives
// depends on the command (see dispatch).
var errWrongOperand = errors.New("chat: unexpected operand record type")

// Connection is one client session. It reads records off the TCP stream,
// runs the command state machine, and carries the authentication state of
// the session.
//
// Writes go through WriteRecord under the write mutex: the registry relays
// direct messages onto this connection from other sessions' goroutines, so
// replies and relayed records must not interleave mid-record.
type Connection struct {
	id    string
	conn  net.Conn
	rt    *runtime.Runtime
	mcast multicast.Sender
	rec   Recorder

	wmu sync.Mutex

	// Session state, only touched by the serve goroutine.
	authenticated bool
	login         string
	display       string
}

// WriteRecord writes one record to the client under the write mutex. It is
// the registry.RecordWriter implementation used for relayed messages.
func (c *Connection) WriteRecord(typ uint16, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return tlv.WriteRecord(c.conn, typ, payload)
}

func (c *Connection) writeGroupInfo(info *group.Info) error {
	payload, err := info.WireInfo().Marshal()
	if err != nil {
		return err
	}
	return c.WriteRecord(tlv.TypeGroupInfo, payload)
}

func (c *Connection) writeStatus(st tlv.Status) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return tlv.WriteStatus(c.conn, st)
}

// Serve runs the session until the client disconnects, the stream errors,
// or a command sequence is broken badly enough to require teardown.
func (c *Connection) Serve(ctx context.Context) {
	ctx = logger.WithContext(ctx,
		logger.NewLogContext(c.id, c.conn.RemoteAddr().String()))
	defer c.teardown(ctx)

	for {
		typ, payload, err := tlv.ReadRecord(c.conn)
		if err != nil {
			if err == io.EOF {
				logger.DebugCtx(ctx, "client disconnected")
			} else {
				logger.DebugCtx(ctx, "stream read failed", logger.Err(err))
			}
			return
		}

		// Outside a command sequence, anything but COMMAND is noise.
		if typ != tlv.TypeCommand {
			logger.DebugCtx(ctx, "discarding stray record", logger.KeyRecord, typ)
			continue
		}

		cmd, err := tlv.ParseCommand(payload)
		if err != nil {
			if werr := c.writeStatus(tlv.StatusError); werr != nil {
				return
			}
			continue
		}

		if c.rec != nil {
			c.rec.RecordCommand(cmd.String())
		}

		cctx := logger.WithContext(ctx, logger.FromContext(ctx).
			WithLogin(c.login).WithCommand(cmd.String()))
		if fatal := c.dispatch(cctx, cmd); fatal {
			return
		}
	}
}

// dispatch runs one command. The returned bool is true when the session must
// be torn down: stream errors always, and broken operand sequences for the
// commands the protocol gives no recovery point for.
func (c *Connection) dispatch(ctx context.Context, cmd tlv.Command) (fatal bool) {
	var err error
	switch cmd {
	case tlv.CmdLogin:
		err = c.handleLogin(ctx)
	case tlv.CmdLogout:
		err = c.handleLogout(ctx)
	case tlv.CmdCreateAccount:
		err = c.handleCreateAccount(ctx)
	case tlv.CmdChangeUsername:
		err = c.handleChangeUsername(ctx)
	case tlv.CmdChangePassword:
		err = c.handleChangePassword(ctx)
	case tlv.CmdGetActiveUsers:
		err = c.handleGetActiveUsers(ctx)
	case tlv.CmdSendToUser:
		err = c.handleSendToUser(ctx)
	case tlv.CmdSendToGroup:
		err = c.handleSendToGroup(ctx)
	case tlv.CmdCreateGroup:
		err = c.handleCreateGroup(ctx)
	case tlv.CmdListGroups:
		err = c.handleListGroups(ctx)
	case tlv.CmdJoinGroup:
		err = c.handleJoinGroup(ctx)
	case tlv.CmdGetHistory:
		err = c.handleGetHistory(ctx)
	default:
		logger.DebugCtx(ctx, "unknown command")
		err = nil
		if werr := c.writeStatus(tlv.StatusError); werr != nil {
			return true
		}
	}
	if err == nil {
		return false
	}

	if errors.Is(err, errWrongOperand) {
		switch cmd {
		case tlv.CmdLogin, tlv.CmdChangePassword, tlv.CmdSendToUser, tlv.CmdGetHistory:
			// The protocol has no resync point inside these sequences.
			logger.DebugCtx(ctx, "broken operand sequence, closing session")
			return true
		default:
			return c.writeStatus(tlv.StatusError) != nil
		}
	}

	logger.DebugCtx(ctx, "session error", logger.Err(err))
	return true
}

// readOperand reads the next record and requires it to be of type want.
// Stream errors come back wrapped; a well-formed record of the wrong type is
// errWrongOperand.
func (c *Connection) readOperand(want uint16) ([]byte, error) {
	typ, payload, err := tlv.ReadRecord(c.conn)
	if err != nil {
		return nil, err
	}
	if typ != want {
		return nil, errWrongOperand
	}
	return payload, nil
}

// teardown removes the session from the registry (if it ever logged in) and
// closes the socket.
func (c *Connection) teardown(ctx context.Context) {
	if s := c.rt.Sessions.RemoveByID(c.id); s != nil {
		logger.InfoCtx(ctx, "session ended", logger.Login(s.Login))
	}
	_ = c.conn.Close()
}

// clearSession drops the registry entry and resets local authentication
// state. Used by LOGOUT and by a re-LOGIN on the same connection.
func (c *Connection) clearSession() {
	c.rt.Sessions.RemoveByID(c.id)
	c.authenticated = false
	c.login = ""
	c.display = ""
}

func (c *Connection) handleLogin(ctx context.Context) error {
	loginB, err := c.readOperand(tlv.TypeLogin)
	if err != nil {
		return err
	}
	passwordB, err := c.readOperand(tlv.TypePassword)
	if err != nil {
		return err
	}
	login, password := string(loginB), string(passwordB)

	// A second LOGIN on the same connection replaces the first session.
	if c.authenticated {
		c.clearSession()
	}

	if c.rt.Sessions.IsLoggedIn(login) {
		logger.InfoCtx(ctx, "login refused, already online", logger.Login(login))
		return c.writeStatus(tlv.StatusAlreadyLoggedIn)
	}

	acct, err := c.rt.Users.Authenticate(login, password)
	if err != nil {
		logger.InfoCtx(ctx, "authentication failed",
			logger.Login(login), logger.Err(err))
		return c.writeStatus(tlv.StatusAuthenticationError)
	}

	sess := &registry.Session{
		ID:          c.id,
		Login:       acct.Login,
		DisplayName: acct.DisplayName,
		RemoteAddr:  c.conn.RemoteAddr().String(),
		LoggedInAt:  time.Now(),
		Conn:        c,
	}
	if err := c.rt.Sessions.Add(sess); err != nil {
		// Lost the race with another connection for the same login.
		return c.writeStatus(tlv.StatusAlreadyLoggedIn)
	}
	c.authenticated = true
	c.login = acct.Login
	c.display = acct.DisplayName

	if err := c.writeStatus(tlv.StatusOK); err != nil {
		return err
	}

	// The client joins its groups' multicast endpoints from these.
	infos, err := c.rt.Groups.UserGroups(c.login)
	if err != nil {
		logger.WarnCtx(ctx, "group enumeration failed", logger.Err(err))
		infos = nil
	}
	for _, info := range infos {
		if err := c.writeGroupInfo(info); err != nil {
			return err
		}
	}

	logger.InfoCtx(ctx, "login", logger.Login(c.login), "groups", len(infos))
	return nil
}

func (c *Connection) handleLogout(ctx context.Context) error {
	if c.authenticated {
		logger.InfoCtx(ctx, "logout", logger.Login(c.login))
		c.clearSession()
	}
	return c.writeStatus(tlv.StatusOK)
}

func (c *Connection) handleCreateAccount(ctx context.Context) error {
	loginB, err := c.readOperand(tlv.TypeLogin)
	if err != nil {
		return err
	}
	passwordB, err := c.readOperand(tlv.TypePassword)
	if err != nil {
		return err
	}
	displayB, err := c.readOperand(tlv.TypeUsername)
	if err != nil {
		return err
	}

	err = c.rt.Users.Create(string(loginB), string(passwordB), string(displayB))
	if err != nil {
		logger.InfoCtx(ctx, "account creation refused",
			logger.Login(string(loginB)), logger.Err(err))
		return c.writeStatus(tlv.StatusError)
	}
	logger.InfoCtx(ctx, "account created", logger.Login(string(loginB)))
	return c.writeStatus(tlv.StatusOK)
}

func (c *Connection) handleChangeUsername(ctx context.Context) error {
	displayB, err := c.readOperand(tlv.TypeUsername)
	if err != nil {
		return err
	}
	if !c.authenticated {
		return c.writeStatus(tlv.StatusError)
	}

	if _, err := c.rt.Users.ChangeDisplayName(c.login, string(displayB)); err != nil {
		return c.writeStatus(tlv.StatusError)
	}
	c.display = string(displayB)
	c.rt.Sessions.Rename(c.login, c.display)
	logger.InfoCtx(ctx, "display name changed", logger.KeyDisplay, c.display)
	return c.writeStatus(tlv.StatusOK)
}

func (c *Connection) handleChangePassword(ctx context.Context) error {
	oldB, err := c.readOperand(tlv.TypePassword)
	if err != nil {
		return err
	}
	newB, err := c.readOperand(tlv.TypePassword)
	if err != nil {
		return err
	}
	if !c.authenticated {
		return c.writeStatus(tlv.StatusError)
	}

	switch err := c.rt.Users.ChangePassword(c.login, string(oldB), string(newB)); {
	case err == nil:
		logger.InfoCtx(ctx, "password changed")
		return c.writeStatus(tlv.StatusOK)
	case errors.Is(err, user.ErrWrongPassword):
		return c.writeStatus(tlv.StatusAuthenticationError)
	default:
		return c.writeStatus(tlv.StatusError)
	}
}

func (c *Connection) handleGetActiveUsers(_ context.Context) error {
	return c.WriteRecord(tlv.TypeActiveUsers, []byte(c.rt.Sessions.Serialize()))
}

func (c *Connection) handleSendToUser(ctx context.Context) error {
	targetB, err := c.readOperand(tlv.TypeLogin)
	if err != nil {
		return err
	}
	messageB, err := c.readOperand(tlv.TypeMessage)
	if err != nil {
		return err
	}
	if !c.authenticated {
		return c.writeStatus(tlv.StatusError)
	}
	if len(messageB) == 0 || len(messageB) > tlv.MaxMessageLen {
		return c.writeStatus(tlv.StatusError)
	}
	target, message := string(targetB), string(messageB)

	// The relay unit and the history append run under the registry mutex
	// so no other sender can interleave records on the target stream and
	// delivery implies a history line.
	err = c.rt.Sessions.Deliver(target, func(s *registry.Session) error {
		if err := s.Conn.WriteRecord(tlv.TypeLogin, []byte(c.login)); err != nil {
			return err
		}
		if err := s.Conn.WriteRecord(tlv.TypeUsername, []byte(c.display)); err != nil {
			return err
		}
		if err := s.Conn.WriteRecord(tlv.TypeMessage, messageB); err != nil {
			return err
		}
		return c.rt.History.Append(
			history.Key(c.login, target), c.login, c.display, message)
	})
	switch {
	case err == nil:
		if c.rec != nil {
			c.rec.RecordDirectMessage()
		}
		logger.DebugCtx(ctx, "direct message relayed", logger.Target(target))
		return c.writeStatus(tlv.StatusOK)
	case errors.Is(err, registry.ErrNotFound):
		return c.writeStatus(tlv.StatusUserNotFound)
	default:
		logger.WarnCtx(ctx, "relay failed", logger.Target(target), logger.Err(err))
		return c.writeStatus(tlv.StatusError)
	}
}

func (c *Connection) handleSendToGroup(ctx context.Context) error {
	nameB, err := c.readOperand(tlv.TypeGroupName)
	if err != nil {
		return err
	}
	messageB, err := c.readOperand(tlv.TypeMessage)
	if err != nil {
		return err
	}
	if !c.authenticated {
		return c.writeStatus(tlv.StatusError)
	}
	if len(messageB) == 0 || len(messageB) > tlv.MaxMessageLen {
		return c.writeStatus(tlv.StatusError)
	}
	name, message := string(nameB), string(messageB)

	info, err := c.rt.Groups.GetInfo(name)
	if err != nil {
		return c.writeStatus(tlv.StatusGroupNotFound)
	}
	if !c.rt.Groups.HasMember(name, c.login) {
		return c.writeStatus(tlv.StatusError)
	}

	if err := c.mcast.Send(info.McastAddr, info.McastPort,
		name, c.login, c.display, message); err != nil {
		// Fan-out is best effort; the durable copy is the history line.
		logger.WarnCtx(ctx, "multicast send failed",
			logger.Group(name), logger.Err(err))
	}
	if err := c.rt.History.Append(name, c.login, c.display, message); err != nil {
		return c.writeStatus(tlv.StatusError)
	}

	if c.rec != nil {
		c.rec.RecordGroupMessage()
	}
	logger.DebugCtx(ctx, "group message sent", logger.Group(name))
	return c.writeStatus(tlv.StatusOK)
}

func (c *Connection) handleCreateGroup(ctx context.Context) error {
	nameB, err := c.readOperand(tlv.TypeGroupName)
	if err != nil {
		return err
	}
	if !c.authenticated {
		return c.writeStatus(tlv.StatusError)
	}

	info, err := c.rt.Groups.Create(string(nameB), c.login)
	if err != nil {
		logger.InfoCtx(ctx, "group creation refused",
			logger.Group(string(nameB)), logger.Err(err))
		return c.writeStatus(tlv.StatusError)
	}

	if err := c.writeStatus(tlv.StatusOK); err != nil {
		return err
	}
	logger.InfoCtx(ctx, "group created", logger.Group(info.Name),
		logger.KeyMcast, info.McastAddr)
	return c.writeGroupInfo(info)
}

func (c *Connection) handleListGroups(_ context.Context) error {
	names, err := c.rt.Groups.List()
	if err != nil {
		return c.writeStatus(tlv.StatusError)
	}
	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte('\n')
	}
	return c.WriteRecord(tlv.TypeGroupList, []byte(b.String()))
}

func (c *Connection) handleJoinGroup(ctx context.Context) error {
	nameB, err := c.readOperand(tlv.TypeGroupName)
	if err != nil {
		return err
	}
	if !c.authenticated {
		return c.writeStatus(tlv.StatusError)
	}
	name := string(nameB)

	info, err := c.rt.Groups.AddMember(name, c.login)
	switch {
	case err == nil:
		if err := c.writeStatus(tlv.StatusOK); err != nil {
			return err
		}
		logger.InfoCtx(ctx, "joined group", logger.Group(name))
		return c.writeGroupInfo(info)
	case errors.Is(err, group.ErrAlreadyMember):
		return c.writeStatus(tlv.StatusAlreadyInGroup)
	case errors.Is(err, group.ErrNotFound):
		return c.writeStatus(tlv.StatusGroupNotFound)
	default:
		return c.writeStatus(tlv.StatusError)
	}
}

func (c *Connection) handleGetHistory(ctx context.Context) error {
	peerB, err := c.readOperand(tlv.TypeLogin)
	if err != nil {
		return err
	}
	limitB, err := c.readOperand(tlv.TypeUint16)
	if err != nil {
		return err
	}
	limit, err := tlv.ParseUint16(limitB)
	if err != nil {
		return errWrongOperand
	}
	if !c.authenticated {
		return c.writeStatus(tlv.StatusError)
	}
	peer := string(peerB)

	// A group name shadows a login of the same name.
	key := peer
	if !c.rt.Groups.Exists(peer) {
		key = history.Key(c.login, peer)
	}

	transcript, err := c.rt.History.Read(key, int(limit))
	if err != nil {
		logger.DebugCtx(ctx, "history read failed",
			logger.Path(key), logger.Err(err))
		return c.writeStatus(tlv.StatusError)
	}
	return c.WriteRecord(tlv.TypeHistory, []byte(transcript))
}
