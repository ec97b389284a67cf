package server

import (
	"log/slog"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/linechat/internal/protocol"
	"github.com/Tyrowin/linechat/internal/registry"
)

// drain returns whatever is queued on sess without blocking.
func drain(sess *registry.Session) []string {
	var lines []string
	for {
		select {
		case line, ok := <-sess.Outbound():
			if !ok {
				return lines
			}
			lines = append(lines, line)
		default:
			return lines
		}
	}
}

type dispatchFixture struct {
	reg *registry.Registry
	d   *Dispatcher
}

func newDispatchFixture(t *testing.T, opts registry.Options) *dispatchFixture {
	t.Helper()
	reg := registry.New(opts)
	return &dispatchFixture{reg: reg, d: NewDispatcher(reg, logs.GetLoggerFromLevel(slog.LevelError), 0)}
}

func (f *dispatchFixture) login(t *testing.T, name string) *registry.Session {
	t.Helper()
	sess, err := f.reg.Register(name, "127.0.0.1:0")
	require.NoError(t, err)
	return sess
}

func TestDispatcher_PrivateMessage(t *testing.T) {
	req := require.New(t)
	f := newDispatchFixture(t, registry.Options{})
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")

	req.False(f.d.Dispatch(alice, "/msg bob hello   there"))
	req.Equal([]string{"[alice]: hello   there"}, drain(bob))
	req.Empty(drain(alice))

	f.d.Dispatch(alice, "/msg carol hi")
	req.Equal([]string{"Error: User carol not found online."}, drain(alice))

	f.d.Dispatch(alice, "/msg bob")
	req.Equal([]string{"Usage: /msg <username> <message>"}, drain(alice))
}

func TestDispatcher_Broadcast(t *testing.T) {
	req := require.New(t)
	f := newDispatchFixture(t, registry.Options{})
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")
	carol := f.login(t, "carol")

	f.d.Dispatch(alice, "/broadcast hi all")

	req.Equal([]string{"[Broadcast][alice]: hi all"}, drain(bob))
	req.Equal([]string{"[Broadcast][alice]: hi all"}, drain(carol))
	req.Equal([]string{"Message broadcast successful"}, drain(alice))
}

func TestDispatcher_GroupLifecycle(t *testing.T) {
	req := require.New(t)
	f := newDispatchFixture(t, registry.Options{})
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")

	f.d.Dispatch(alice, "/create_group devs")
	req.Equal([]string{"Group devs created."}, drain(alice))
	req.Equal([]string{"New group 'devs' has been created by alice"}, drain(bob))

	f.d.Dispatch(bob, "/create_group devs")
	req.Equal([]string{"Error: Group 'devs' already exists."}, drain(bob))

	f.d.Dispatch(bob, "/group_msg devs hi")
	req.Equal([]string{"Error: You are not a member of group 'devs'."}, drain(bob))

	f.d.Dispatch(bob, "/join_group devs")
	req.Equal([]string{"You joined the group devs."}, drain(bob))
	req.Equal([]string{"[Group devs]: bob has joined the group."}, drain(alice))

	f.d.Dispatch(bob, "/join_group devs")
	req.Equal([]string{"You are already a member of group 'devs'."}, drain(bob))

	f.d.Dispatch(alice, "/group_msg devs ship it")
	req.Equal([]string{"[Group devs][alice]: ship it"}, drain(bob))
	req.Empty(drain(alice))

	f.d.Dispatch(alice, "/groups_users")
	req.Equal([]string{"Groups and their members:", "Group 'devs': alice, bob"}, drain(alice))

	f.d.Dispatch(alice, "/leave_group devs")
	req.Equal([]string{"You left the group devs."}, drain(alice))
	req.Equal([]string{"[Group devs]: alice has left the group."}, drain(bob))

	f.d.Dispatch(bob, "/leave_group devs")
	req.Equal([]string{
		"You left the group devs.",
		"Group devs has been deleted as you were the last remaining member.",
	}, drain(bob))
	req.Equal([]string{"Group 'devs' has been deleted as it has no members."}, drain(alice))

	f.d.Dispatch(alice, "/groups_users")
	req.Equal([]string{"No groups exist."}, drain(alice))

	f.d.Dispatch(alice, "/join_group devs")
	req.Equal([]string{"Error: Group 'devs' does not exist."}, drain(alice))

	f.d.Dispatch(alice, "/leave_group devs")
	req.Equal([]string{"You are not a member of group devs."}, drain(alice))
}

func TestDispatcher_GroupDeletionReachesEveryoneElse(t *testing.T) {
	req := require.New(t)
	f := newDispatchFixture(t, registry.Options{})
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")
	carol := f.login(t, "carol")

	f.d.Dispatch(alice, "/create_group solo")
	drain(alice)
	drain(bob)
	drain(carol)

	f.d.Dispatch(alice, "/leave_group solo")
	req.Equal([]string{
		"You left the group solo.",
		"Group solo has been deleted as you were the last remaining member.",
	}, drain(alice))

	want := []string{"Group 'solo' has been deleted as it has no members."}
	req.Equal(want, drain(bob))
	req.Equal(want, drain(carol))

	f.d.Dispatch(carol, "/create_group solo")
	req.Equal([]string{"Group solo created."}, drain(carol))
}

func TestDispatcher_ListUsersHelpQuit(t *testing.T) {
	req := require.New(t)
	f := newDispatchFixture(t, registry.Options{})
	bob := f.login(t, "bob")
	f.login(t, "alice")

	req.False(f.d.Dispatch(bob, "/users"))
	req.Equal([]string{"Online users: alice, bob"}, drain(bob))

	f.d.Dispatch(bob, "/HELP")
	req.Equal(protocol.HelpLines(), drain(bob))

	req.True(f.d.Dispatch(bob, "/quit"))
	req.Equal([]string{"Goodbye!"}, drain(bob))

	req.True(f.d.Dispatch(bob, "/exit"))
}

func TestDispatcher_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{
			name: "blank line is ignored",
			line: "   ",
			want: nil,
		},
		{
			name: "plain text is rejected",
			line: "hello",
			want: []string{"Error: every message needs a command, e.g. /msg <username> <message> or /broadcast <message>. Type /help for a list of commands."},
		},
		{
			name: "unknown command",
			line: "/dance now",
			want: []string{"Error: unknown command /dance. Type /help for a list of commands."},
		},
		{
			name: "group command with extra argument",
			line: "/join_group a b",
			want: []string{"Usage: /join_group <group_name>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatchFixture(t, registry.Options{})
			alice := f.login(t, "alice")

			require.False(t, f.d.Dispatch(alice, tt.line))
			require.Equal(t, tt.want, drain(alice))
		})
	}
}

func TestDispatcher_ReplyErrorForOversizedLine(t *testing.T) {
	f := newDispatchFixture(t, registry.Options{})
	alice := f.login(t, "alice")

	f.d.ReplyError(alice, protocol.ErrLineTooLong)
	require.Equal(t, []string{"Error: message exceeds 1024 bytes."}, drain(alice))
}

func TestDispatcher_FullQueueIsReportedToSender(t *testing.T) {
	req := require.New(t)
	f := newDispatchFixture(t, registry.Options{QueueSize: 2})
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")

	f.d.Dispatch(alice, "/msg bob one")
	f.d.Dispatch(alice, "/msg bob two")
	f.d.Dispatch(alice, "/msg bob three")

	req.Equal([]string{"[alice]: one", "[alice]: two"}, drain(bob))
	req.Equal([]string{"Error: message to bob dropped, outbound queue is full."}, drain(alice))
}

func TestDispatcher_DepartedRecipientIsSkipped(t *testing.T) {
	req := require.New(t)
	f := newDispatchFixture(t, registry.Options{})
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")

	_, removed := f.reg.Remove(bob)
	req.True(removed)

	f.d.Dispatch(alice, "/msg bob still there?")
	req.Equal([]string{"Error: User bob not found online."}, drain(alice))

	// A send racing the departure hits a closed queue and is dropped quietly.
	f.d.deliver(alice, bob, "late")
	req.Empty(drain(alice))
}

func TestDispatcher_CaseInsensitiveLookup(t *testing.T) {
	f := newDispatchFixture(t, registry.Options{CaseInsensitive: true})
	alice := f.login(t, "alice")
	bob := f.login(t, "Bob")

	f.d.Dispatch(alice, "/msg BOB hi")
	require.Equal(t, []string{"[alice]: hi"}, drain(bob))
}
