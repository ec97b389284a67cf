package server

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Tyrowin/linechat/internal/protocol"
	"github.com/Tyrowin/linechat/internal/registry"
)

// Dispatcher executes parsed commands against the registry and queues the
// resulting lines on the affected sessions. It never writes to a socket and
// never holds the registry lock while queueing.
type Dispatcher struct {
	registry *registry.Registry
	log      *slog.Logger
	maxLine  int
}

// NewDispatcher returns a Dispatcher. maxLine is only used for the
// oversized-input reply.
func NewDispatcher(reg *registry.Registry, log *slog.Logger, maxLine int) *Dispatcher {
	if maxLine <= 0 {
		maxLine = protocol.MaxLineLength
	}
	return &Dispatcher{registry: reg, log: log, maxLine: maxLine}
}

// Dispatch handles one inbound line from sess and reports whether the
// connection should close.
func (d *Dispatcher) Dispatch(sess *registry.Session, line string) bool {
	cmd, err := protocol.Parse(line)
	if errors.Is(err, protocol.ErrEmptyLine) {
		return false
	}
	if err != nil {
		d.ReplyError(sess, err)
		return false
	}
	return d.Execute(sess, cmd)
}

// Execute runs cmd on behalf of sess and reports whether the connection
// should close.
func (d *Dispatcher) Execute(sess *registry.Session, cmd protocol.Command) bool {
	d.log.Debug("command", "user", sess.Username(), "command", cmd.Name())

	switch c := cmd.(type) {
	case protocol.PrivateMessage:
		d.privateMessage(sess, c)
	case protocol.Broadcast:
		d.broadcast(sess, c)
	case protocol.CreateGroup:
		d.createGroup(sess, c)
	case protocol.JoinGroup:
		d.joinGroup(sess, c)
	case protocol.LeaveGroup:
		d.leaveGroup(sess, c)
	case protocol.GroupMessage:
		d.groupMessage(sess, c)
	case protocol.ListUsers:
		d.reply(sess, "Online users: "+strings.Join(d.registry.ListUsers(), ", "))
	case protocol.ListGroups:
		d.listGroups(sess)
	case protocol.Help:
		for _, line := range protocol.HelpLines() {
			d.reply(sess, line)
		}
	case protocol.Quit:
		d.reply(sess, "Goodbye!")
		return true
	default:
		d.ReplyError(sess, &protocol.UnknownCommandError{Name: cmd.Name()})
	}
	return false
}

func (d *Dispatcher) privateMessage(sess *registry.Session, c protocol.PrivateMessage) {
	target, err := d.registry.Lookup(c.To)
	if err != nil {
		d.ReplyError(sess, withSubject(err, c.To))
		return
	}
	if d.deliver(sess, target, fmt.Sprintf("[%s]: %s", sess.Username(), c.Text)) {
		d.log.Info("private message delivered", "from", sess.Username(), "to", target.Username())
	}
}

func (d *Dispatcher) broadcast(sess *registry.Session, c protocol.Broadcast) {
	line := fmt.Sprintf("[Broadcast][%s]: %s", sess.Username(), c.Text)
	recipients := d.registry.Others(sess)
	for _, target := range recipients {
		d.deliver(sess, target, line)
	}
	d.log.Info("broadcast", "from", sess.Username(), "recipients", len(recipients))
	d.reply(sess, "Message broadcast successful")
}

func (d *Dispatcher) createGroup(sess *registry.Session, c protocol.CreateGroup) {
	if err := d.registry.CreateGroup(c.Group, sess.Username()); err != nil {
		d.ReplyError(sess, withSubject(err, c.Group))
		return
	}
	d.log.Info("group created", "group", c.Group, "by", sess.Username())
	d.reply(sess, fmt.Sprintf("Group %s created.", c.Group))
	d.notify(d.registry.Others(sess), fmt.Sprintf("New group '%s' has been created by %s", c.Group, sess.Username()))
}

func (d *Dispatcher) joinGroup(sess *registry.Session, c protocol.JoinGroup) {
	res, err := d.registry.JoinGroup(sess.Username(), c.Group)
	if err != nil {
		d.ReplyError(sess, withSubject(err, c.Group))
		return
	}
	if !res.Joined {
		d.reply(sess, fmt.Sprintf("You are already a member of group '%s'.", c.Group))
		return
	}
	d.log.Info("group joined", "group", c.Group, "user", sess.Username())
	d.reply(sess, fmt.Sprintf("You joined the group %s.", c.Group))
	d.notify(res.Others, fmt.Sprintf("[Group %s]: %s has joined the group.", c.Group, sess.Username()))
}

func (d *Dispatcher) leaveGroup(sess *registry.Session, c protocol.LeaveGroup) {
	res, err := d.registry.LeaveGroup(sess.Username(), c.Group)
	if err != nil {
		d.ReplyError(sess, err)
		return
	}
	if !res.Left {
		d.reply(sess, fmt.Sprintf("You are not a member of group %s.", c.Group))
		return
	}
	d.log.Info("group left", "group", c.Group, "user", sess.Username(), "deleted", res.Deleted)
	d.reply(sess, fmt.Sprintf("You left the group %s.", c.Group))
	if res.Deleted {
		d.reply(sess, fmt.Sprintf("Group %s has been deleted as you were the last remaining member.", c.Group))
		d.notify(d.registry.Others(sess), groupDeletedNotice(c.Group))
		return
	}
	d.notify(res.Remaining, fmt.Sprintf("[Group %s]: %s has left the group.", c.Group, sess.Username()))
}

func (d *Dispatcher) groupMessage(sess *registry.Session, c protocol.GroupMessage) {
	recipients, err := d.registry.GroupRecipients(c.Group, sess.Username())
	if err != nil {
		d.ReplyError(sess, withSubject(err, c.Group))
		return
	}
	line := fmt.Sprintf("[Group %s][%s]: %s", c.Group, sess.Username(), c.Text)
	for _, target := range recipients {
		d.deliver(sess, target, line)
	}
	d.log.Info("group message", "group", c.Group, "from", sess.Username(), "recipients", len(recipients))
}

func (d *Dispatcher) listGroups(sess *registry.Session) {
	groups := d.registry.Groups()
	if len(groups) == 0 {
		d.reply(sess, "No groups exist.")
		return
	}
	d.reply(sess, "Groups and their members:")
	for _, g := range groups {
		d.reply(sess, fmt.Sprintf("Group '%s': %s", g.Name, strings.Join(g.Members, ", ")))
	}
}

func groupDeletedNotice(group string) string {
	return fmt.Sprintf("Group '%s' has been deleted as it has no members.", group)
}

// deliver queues line for target on behalf of sender. A full queue is
// reported back to the sender; a target that disconnected meanwhile is
// skipped silently.
func (d *Dispatcher) deliver(sender, target *registry.Session, line string) bool {
	err := target.Enqueue(line)
	switch {
	case err == nil:
		return true
	case errors.Is(err, registry.ErrQueueFull):
		d.log.Warn("queue full", "from", sender.Username(), "to", target.Username())
		d.reply(sender, fmt.Sprintf("Error: message to %s dropped, outbound queue is full.", target.Username()))
	case errors.Is(err, registry.ErrSessionClosed):
		d.log.Debug("recipient gone", "from", sender.Username(), "to", target.Username())
	}
	return false
}

// notify queues a server notice on every target, dropping it for targets
// that cannot take it.
func (d *Dispatcher) notify(targets []*registry.Session, line string) {
	for _, target := range targets {
		if err := target.Enqueue(line); err != nil && !errors.Is(err, registry.ErrSessionClosed) {
			d.log.Warn("notice dropped", "to", target.Username(), "error", err)
		}
	}
}

// reply queues line for sess itself.
func (d *Dispatcher) reply(sess *registry.Session, line string) {
	if err := sess.Enqueue(line); err != nil && !errors.Is(err, registry.ErrSessionClosed) {
		d.log.Warn("reply dropped", "user", sess.Username(), "error", err)
	}
}

// ReplyError sends the client-visible text for err to sess.
func (d *Dispatcher) ReplyError(sess *registry.Session, err error) {
	d.log.Debug("command rejected", "user", sess.Username(), "kind", Classify(err).String(), "error", err)
	d.reply(sess, d.errorText(err))
}

func (d *Dispatcher) errorText(err error) string {
	var usageErr *protocol.UsageError
	var unknownErr *protocol.UnknownCommandError
	subject := errorSubject(err)

	switch {
	case errors.As(err, &usageErr):
		return "Usage: " + usageErr.Usage
	case errors.Is(err, protocol.ErrLineTooLong):
		return fmt.Sprintf("Error: message exceeds %d bytes.", d.maxLine)
	case errors.Is(err, protocol.ErrInvalidUTF8):
		return "Error: message is not valid UTF-8."
	case errors.Is(err, protocol.ErrNotACommand):
		return "Error: every message needs a command, e.g. /msg <username> <message> or /broadcast <message>. Type /help for a list of commands."
	case errors.As(err, &unknownErr):
		return fmt.Sprintf("Error: unknown command %s. Type /help for a list of commands.", unknownErr.Name)
	case errors.Is(err, registry.ErrNotFound):
		return fmt.Sprintf("Error: User %s not found online.", subject)
	case errors.Is(err, registry.ErrAlreadyExists):
		return fmt.Sprintf("Error: Group '%s' already exists.", subject)
	case errors.Is(err, registry.ErrNoSuchGroup):
		return fmt.Sprintf("Error: Group '%s' does not exist.", subject)
	case errors.Is(err, registry.ErrNotAMember):
		return fmt.Sprintf("Error: You are not a member of group '%s'.", subject)
	case errors.Is(err, registry.ErrQueueFull):
		return "Error: outbound queue is full, message dropped."
	default:
		return "Error: " + err.Error()
	}
}

// subjectError attaches the user or group name a registry error is about.
type subjectError struct {
	err     error
	subject string
}

func withSubject(err error, subject string) error {
	return &subjectError{err: err, subject: subject}
}

func (e *subjectError) Error() string { return e.err.Error() + ": " + e.subject }
func (e *subjectError) Unwrap() error { return e.err }

func errorSubject(err error) string {
	var se *subjectError
	if errors.As(err, &se) {
		return se.subject
	}
	return ""
}
