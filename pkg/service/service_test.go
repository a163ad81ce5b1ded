package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mahaj/chatwithme/pkg/auth"
	"github.com/mahaj/chatwithme/pkg/common"
	"github.com/mahaj/chatwithme/pkg/fanout"
	"github.com/mahaj/chatwithme/pkg/fanout/mocks"
	"github.com/mahaj/chatwithme/pkg/model"
	"github.com/mahaj/chatwithme/pkg/realtime"
	"github.com/mahaj/chatwithme/pkg/snowflake"
	"github.com/mahaj/chatwithme/pkg/store/badgerstore"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// plainHasher keeps tests fast; argon2 is covered in pkg/auth.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain$" + password, nil }

func (plainHasher) Verify(password, hash string) bool { return hash == "plain$"+password }

type fixture struct {
	svc       *ChatService
	tokens    *auth.TokenService
	publisher *mocks.MockPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockPublisher(ctrl)
	return newFixtureWith(t, publisher, func(f *fixture) { f.publisher = publisher })
}

func newFixtureWith(t *testing.T, publisher fanout.Publisher, opts ...func(*fixture)) *fixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tokens, err := auth.NewTokenService(auth.TokenConfig{SecretKey: []byte("svc-secret"), TTL: 15 * time.Minute})
	require.NoError(t, err)
	ids, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		tokens: tokens,
		svc: New(Deps{
			Store:     badgerstore.New(db, log),
			Hasher:    plainHasher{},
			Tokens:    tokens,
			Publisher: publisher,
			IDs:       ids,
			Log:       log,
		}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *fixture) user(t *testing.T, name string, admin bool) model.Identity {
	t.Helper()
	u, err := f.svc.createUser(context.Background(), RegisterInput{
		Name: name, Email: strings.ToLower(name) + "@wechat.com", Password: "pw-" + name, IsAdmin: admin,
	})
	require.NoError(t, err)
	return u.Identity()
}

func TestLogin(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "Alice", true)

	identity, cred, err := f.svc.Login(ctx, "alice@wechat.com", "pw-Alice")
	req.NoError(err)
	req.Equal(alice, identity)

	claims, err := f.tokens.Verify(cred.String())
	req.NoError(err)
	req.Equal(alice, claims.Identity())
	req.True(claims.ExpiresAt.Equal(claims.IssuedAt.Add(15 * time.Minute)))

	_, _, err = f.svc.Login(ctx, "alice@wechat.com", "wrong")
	req.ErrorIs(err, common.ErrorAuthorizationFailed)
	_, _, err = f.svc.Login(ctx, "nobody@wechat.com", "pw-Alice")
	req.ErrorIs(err, common.ErrorAuthorizationFailed)
}

func TestRegister(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	admin, bob := f.user(t, "Admin", true), f.user(t, "Bob", false)

	_, err := f.svc.Register(ctx, bob, RegisterInput{Name: "Eve", Email: "eve@wechat.com", Password: "x"})
	req.ErrorIs(err, common.ErrorNoPermission)

	eve, err := f.svc.Register(ctx, admin, RegisterInput{Name: "Eve", Email: "eve@wechat.com", Password: "x"})
	req.NoError(err)
	req.Equal("Eve", eve.Name)
	req.False(eve.IsAdmin)

	_, err = f.svc.Register(ctx, admin, RegisterInput{Name: "Eve2", Email: "EVE@wechat.com", Password: "y"})
	req.ErrorIs(err, common.ErrorConflict)
}

func TestUpdateUserAndSearch(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	admin, bob := f.user(t, "Admin", true), f.user(t, "Bob", false)
	f.user(t, "Bobby", false)

	_, err := f.svc.UpdateUser(ctx, bob, bob.ID, UpdateUserInput{})
	req.ErrorIs(err, common.ErrorNoPermission)

	name, password := "Robert", "new-pw"
	updated, err := f.svc.UpdateUser(ctx, admin, bob.ID, UpdateUserInput{Name: &name, Password: &password})
	req.NoError(err)
	req.Equal("Robert", updated.Name)
	_, _, err = f.svc.Login(ctx, bob.Email, "new-pw")
	req.NoError(err)

	_, err = f.svc.UpdateUser(ctx, admin, "missing", UpdateUserInput{Name: &name})
	req.ErrorIs(err, common.ErrorNotFound)

	found, err := f.svc.SearchUsers(ctx, bob, "BOB")
	req.NoError(err)
	req.Len(found, 1)
	req.Equal("Bobby", found[0].Name)
}

func TestBootstrapAdmin_IsIdempotent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	req.NoError(f.svc.BootstrapAdmin(ctx, "root", "root@wechat.com", "secret"))
	req.NoError(f.svc.BootstrapAdmin(ctx, "root", "root@wechat.com", "other"))

	identity, _, err := f.svc.Login(ctx, "root@wechat.com", "secret")
	req.NoError(err)
	req.True(identity.IsAdmin)
}

func TestAccessChat_IsIdempotent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "Alice", false), f.user(t, "Bob", false)

	first, err := f.svc.AccessChat(ctx, alice, bob.ID)
	req.NoError(err)
	second, err := f.svc.AccessChat(ctx, bob, alice.ID)
	req.NoError(err)

	req.Equal(first.ID, second.ID)
	req.False(first.IsGroup)
	req.Equal(model.IndividualChatName, first.Name)
	req.ElementsMatch([]string{alice.ID, bob.ID}, first.MemberIDs())

	_, err = f.svc.AccessChat(ctx, alice, alice.ID)
	req.ErrorIs(err, common.ErrorRequirementNotMet)
	_, err = f.svc.AccessChat(ctx, alice, "missing")
	req.ErrorIs(err, common.ErrorNotFound)
}

func TestCreateGroup(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	u1, u2, u3 := f.user(t, "One", false), f.user(t, "Two", false), f.user(t, "Three", false)

	_, err := f.svc.CreateGroup(ctx, u1, "team", []string{u2.ID})
	req.ErrorIs(err, common.ErrorRequirementNotMet)
	_, err = f.svc.CreateGroup(ctx, u1, "team", []string{u2.ID, u2.ID, u1.ID})
	req.ErrorIs(err, common.ErrorRequirementNotMet, "duplicates and the creator do not count")
	_, err = f.svc.CreateGroup(ctx, u1, "team", []string{u2.ID, "missing"})
	req.ErrorIs(err, common.ErrorNotFound)
	_, err = f.svc.CreateGroup(ctx, u1, " ", []string{u2.ID, u3.ID})
	req.ErrorIs(err, common.ErrorMissingField)

	group, err := f.svc.CreateGroup(ctx, u1, "team", []string{u2.ID, u3.ID})
	req.NoError(err)
	req.True(group.IsGroup)
	req.Equal([]string{u2.ID, u3.ID, u1.ID}, group.MemberIDs())
	req.NotNil(group.GroupAdmin)
	req.Equal(u1.ID, group.GroupAdmin.ID)
}

func TestGroupMembership(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	u1, u2, u3, u4 := f.user(t, "One", false), f.user(t, "Two", false), f.user(t, "Three", false), f.user(t, "Four", false)
	group, err := f.svc.CreateGroup(ctx, u1, "team", []string{u2.ID, u3.ID})
	req.NoError(err)

	_, err = f.svc.AddToGroup(ctx, u2, group.ID, u4.ID)
	req.ErrorIs(err, common.ErrorNoPermission)

	added, err := f.svc.AddToGroup(ctx, u1, group.ID, u4.ID)
	req.NoError(err)
	req.Len(added.Users, 4)
	again, err := f.svc.AddToGroup(ctx, u1, group.ID, u4.ID)
	req.NoError(err)
	req.Len(again.Users, 4)

	_, err = f.svc.RemoveFromGroup(ctx, u2, group.ID, u3.ID)
	req.ErrorIs(err, common.ErrorNoPermission)

	removed, err := f.svc.RemoveFromGroup(ctx, u1, group.ID, u4.ID)
	req.NoError(err)
	req.Len(removed.Users, 3)

	left, err := f.svc.RemoveFromGroup(ctx, u3, group.ID, u3.ID)
	req.NoError(err)
	req.ElementsMatch([]string{u1.ID, u2.ID}, left.MemberIDs())

	renamed, err := f.svc.RenameGroup(ctx, u2, group.ID, "renamed")
	req.NoError(err)
	req.Equal("renamed", renamed.Name)
	_, err = f.svc.RenameGroup(ctx, u3, group.ID, "nope")
	req.ErrorIs(err, common.ErrorNoPermission)

	dm, err := f.svc.AccessChat(ctx, u1, u2.ID)
	req.NoError(err)
	_, err = f.svc.AddToGroup(ctx, u1, dm.ID, u3.ID)
	req.ErrorIs(err, common.ErrorNotFound)
	_, err = f.svc.RenameGroup(ctx, u1, dm.ID, "x")
	req.ErrorIs(err, common.ErrorNotFound)
}

func TestSendMessage_PublishesCurrentMembers(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	u1, u2, u3, outsider := f.user(t, "One", false), f.user(t, "Two", false), f.user(t, "Three", false), f.user(t, "Out", false)
	group, err := f.svc.CreateGroup(ctx, u1, "team", []string{u2.ID, u3.ID})
	req.NoError(err)

	_, err = f.svc.SendMessage(ctx, outsider, group.ID, "hello")
	req.ErrorIs(err, common.ErrorNoPermission)
	_, err = f.svc.SendMessage(ctx, u1, "missing", "hello")
	req.ErrorIs(err, common.ErrorNotFound)
	_, err = f.svc.SendMessage(ctx, u1, group.ID, "  ")
	req.ErrorIs(err, common.ErrorMissingField)

	_, err = f.svc.RemoveFromGroup(ctx, u1, group.ID, u3.ID)
	req.NoError(err)

	var published model.MessageEvent
	f.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, evt model.MessageEvent) error {
			published = evt
			return nil
		})

	sent, err := f.svc.SendMessage(ctx, u1, group.ID, "hello")
	req.NoError(err)
	req.Equal(u1.ID, sent.Sender.ID)
	req.Equal(sent, published.Message)
	req.ElementsMatch([]string{u1.ID, u2.ID}, published.Message.Chat.MemberIDs(), "removed member is not a recipient")

	chats, err := f.svc.FetchChats(ctx, u2)
	req.NoError(err)
	req.Len(chats, 1)
	req.NotNil(chats[0].LatestMessage)
	req.Equal(sent.ID, chats[0].LatestMessage.ID)
}

func TestSendMessage_PublishFailureIsNotFatal(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "Alice", false), f.user(t, "Bob", false)
	dm, err := f.svc.AccessChat(ctx, alice, bob.ID)
	req.NoError(err)

	f.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))
	_, err = f.svc.SendMessage(ctx, alice, dm.ID, "still stored")
	req.NoError(err)

	history, err := f.svc.ListMessages(ctx, bob, dm.ID)
	req.NoError(err)
	req.Len(history, 1)
}

func TestListMessages_OrderAndPermission(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, eve := f.user(t, "Alice", false), f.user(t, "Bob", false), f.user(t, "Eve", false)
	dm, err := f.svc.AccessChat(ctx, alice, bob.ID)
	req.NoError(err)

	f.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).Times(3)
	for _, content := range []string{"one", "two", "three"} {
		_, err := f.svc.SendMessage(ctx, alice, dm.ID, content)
		req.NoError(err)
	}

	history, err := f.svc.ListMessages(ctx, bob, dm.ID)
	req.NoError(err)
	req.Equal([]string{"one", "two", "three"}, []string{history[0].Content, history[1].Content, history[2].Content})

	_, err = f.svc.ListMessages(ctx, eve, dm.ID)
	req.ErrorIs(err, common.ErrorNoPermission)
}

func TestLikeMessage_KeepsDuplicates(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "Alice", false), f.user(t, "Bob", false)
	dm, err := f.svc.AccessChat(ctx, alice, bob.ID)
	req.NoError(err)
	f.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)
	sent, err := f.svc.SendMessage(ctx, alice, dm.ID, "like me")
	req.NoError(err)

	_, err = f.svc.LikeMessage(ctx, bob, sent.ID)
	req.NoError(err)
	liked, err := f.svc.LikeMessage(ctx, bob, sent.ID)
	req.NoError(err)
	req.Len(liked.LikedBy, 2)
	req.Equal(bob.ID, liked.LikedBy[1].ID)

	_, err = f.svc.LikeMessage(ctx, bob, 12345)
	req.ErrorIs(err, common.ErrorNotFound)
}

func TestLikeMessage_RequiresMembership(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, eve := f.user(t, "Alice", false), f.user(t, "Bob", false), f.user(t, "Eve", false)
	dm, err := f.svc.AccessChat(ctx, alice, bob.ID)
	req.NoError(err)
	f.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)
	sent, err := f.svc.SendMessage(ctx, alice, dm.ID, "members only")
	req.NoError(err)

	_, err = f.svc.LikeMessage(ctx, eve, sent.ID)
	req.ErrorIs(err, common.ErrorNoPermission)

	// the refused like left no trace
	liked, err := f.svc.LikeMessage(ctx, bob, sent.ID)
	req.NoError(err)
	req.Len(liked.LikedBy, 1)
	req.Equal(bob.ID, liked.LikedBy[0].ID)
}

func TestIsMember(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, eve := f.user(t, "Alice", false), f.user(t, "Bob", false), f.user(t, "Eve", false)
	dm, err := f.svc.AccessChat(ctx, alice, bob.ID)
	req.NoError(err)

	ok, err := f.svc.IsMember(ctx, dm.ID, bob.ID)
	req.NoError(err)
	req.True(ok)
	ok, err = f.svc.IsMember(ctx, dm.ID, eve.ID)
	req.NoError(err)
	req.False(ok)
	ok, err = f.svc.IsMember(ctx, "missing", bob.ID)
	req.NoError(err)
	req.False(ok)
}

// U1 sends M to a group of U1, U2 and U3: U2 and U3 are pushed M, U1 is not,
// and the history holds exactly M.
func TestGroupMessageScenario(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	pusher := mocks.NewMockPusher(ctrl)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	f := newFixtureWith(t, fanout.NewLocalBus(fanout.NewDispatcher(pusher, log)))
	ctx := context.Background()
	u1, u2, u3 := f.user(t, "One", false), f.user(t, "Two", false), f.user(t, "Three", false)

	group, err := f.svc.CreateGroup(ctx, u1, "G", []string{u2.ID, u3.ID})
	req.NoError(err)

	pusher.EXPECT().PushToRoom(gomock.Any(), realtime.PersonalRoom(u2.ID), realtime.EventMessageReceived, gomock.Any()).Return(nil)
	pusher.EXPECT().PushToRoom(gomock.Any(), realtime.PersonalRoom(u3.ID), realtime.EventMessageReceived, gomock.Any()).Return(nil)

	sent, err := f.svc.SendMessage(ctx, u1, group.ID, "M")
	req.NoError(err)

	history, err := f.svc.ListMessages(ctx, u2, group.ID)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(sent.ID, history[0].ID)
	req.Equal("M", history[0].Content)
}
