package service

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-chat-go/internal/config"
	"image-chat-go/internal/repository"
	"image-chat-go/pkg/backend"
	"image-chat-go/pkg/token"
)

// makeCredential 模拟身份提供方签发的登录凭证。
func makeCredential(t *testing.T, name, email string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"name":    name,
		"email":   email,
		"picture": "https://example.com/avatar.png",
	}
	credential, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("idp-secret"))
	require.NoError(t, err)
	return credential
}

func newTestSession(t *testing.T) (SessionService, ConversationService, repository.HistoryRepository) {
	t.Helper()
	repo, err := repository.NewFileHistoryRepository(t.TempDir())
	require.NoError(t, err)
	conversation := NewConversationService(repo, &fakeBackendClient{result: &backend.Result{SearchImages: []string{"http://x/1"}}}, config.UploadConfig{})
	jwtManager := token.NewJWTManager("gateway-secret", 24)
	session := NewSessionService(repo, conversation, jwtManager, config.SessionConfig{})
	return session, conversation, repo
}

// 测试登录：解析凭证、签发会话 token、资料落盘
func TestSessionService_Login(t *testing.T) {
	session, _, repo := newTestSession(t)
	ctx := context.Background()

	identity, sessionToken, err := session.Login(ctx, makeCredential(t, "Alice", "alice@example.com"))
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "alice@example.com", identity.Email)
	assert.Equal(t, "Alice", identity.Name)
	assert.NotEmpty(t, sessionToken)

	current := session.Current()
	require.NotNil(t, current)
	assert.Equal(t, "alice@example.com", current.Email)

	// 会话资料已持久化，可供下次启动恢复
	stored, err := repo.LoadProfile(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "alice@example.com", stored.Email)
}

// 测试非法凭证被拒绝且不产生会话
func TestSessionService_LoginBadCredential(t *testing.T) {
	session, _, _ := newTestSession(t)

	_, _, err := session.Login(context.Background(), "not-a-jwt")
	require.Error(t, err)
	assert.Nil(t, session.Current())
}

// 测试登出清空会话但保留历史，重新登录后历史恢复
func TestSessionService_LogoutPreservesHistory(t *testing.T) {
	session, conversation, repo := newTestSession(t)
	ctx := context.Background()

	_, _, err := session.Login(ctx, makeCredential(t, "Alice", "alice@example.com"))
	require.NoError(t, err)

	conversation.SetText("hello")
	_, err = conversation.Send(ctx)
	require.NoError(t, err)
	require.Len(t, conversation.Messages(), 2)

	require.NoError(t, session.Logout(ctx))
	assert.Nil(t, session.Current())
	assert.Empty(t, conversation.Messages())

	// 历史仍在持久化中
	stored, err := repo.LoadHistory(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	// 重新登录恢复历史
	_, _, err = session.Login(ctx, makeCredential(t, "Alice", "alice@example.com"))
	require.NoError(t, err)
	assert.Len(t, conversation.Messages(), 2)
}

// 测试未登录时登出返回错误
func TestSessionService_LogoutWithoutSession(t *testing.T) {
	session, _, _ := newTestSession(t)
	assert.ErrorIs(t, session.Logout(context.Background()), ErrNoActiveSession)
}

// 测试单活跃槽位：换用户登录替换身份并切换历史
func TestSessionService_LoginSwitchesUser(t *testing.T) {
	session, conversation, _ := newTestSession(t)
	ctx := context.Background()

	_, _, err := session.Login(ctx, makeCredential(t, "Alice", "alice@example.com"))
	require.NoError(t, err)
	conversation.SetText("alice question")
	_, err = conversation.Send(ctx)
	require.NoError(t, err)

	_, _, err = session.Login(ctx, makeCredential(t, "Bob", "bob@example.com"))
	require.NoError(t, err)
	require.NotNil(t, session.Current())
	assert.Equal(t, "bob@example.com", session.Current().Email)
	// 两份历史永不合并
	assert.Empty(t, conversation.Messages())
}

// 测试进程重启后的会话恢复
func TestSessionService_Restore(t *testing.T) {
	dir := t.TempDir()
	repo, err := repository.NewFileHistoryRepository(dir)
	require.NoError(t, err)
	client := &fakeBackendClient{result: &backend.Result{SearchImages: []string{"http://x/1"}}}
	jwtManager := token.NewJWTManager("gateway-secret", 24)
	ctx := context.Background()

	// 第一个"进程"：登录并产生历史
	conversation1 := NewConversationService(repo, client, config.UploadConfig{})
	session1 := NewSessionService(repo, conversation1, jwtManager, config.SessionConfig{})
	_, _, err = session1.Login(ctx, makeCredential(t, "Alice", "alice@example.com"))
	require.NoError(t, err)
	conversation1.SetText("hello")
	_, err = conversation1.Send(ctx)
	require.NoError(t, err)

	// 第二个"进程"：从同一目录恢复
	repo2, err := repository.NewFileHistoryRepository(dir)
	require.NoError(t, err)
	conversation2 := NewConversationService(repo2, client, config.UploadConfig{})
	session2 := NewSessionService(repo2, conversation2, jwtManager, config.SessionConfig{})
	session2.Restore(ctx)

	require.NotNil(t, session2.Current())
	assert.Equal(t, "alice@example.com", session2.Current().Email)
	assert.Len(t, conversation2.Messages(), 2)
}

// 测试 WebSocket 令牌的签发需要活跃会话
func TestSessionService_IssueWebsocketToken(t *testing.T) {
	session, _, _ := newTestSession(t)
	ctx := context.Background()

	_, err := session.IssueWebsocketToken()
	assert.ErrorIs(t, err, ErrNoActiveSession)

	_, _, err = session.Login(ctx, makeCredential(t, "Alice", "alice@example.com"))
	require.NoError(t, err)

	ws, err := session.IssueWebsocketToken()
	require.NoError(t, err)
	assert.NotEmpty(t, ws)
}
