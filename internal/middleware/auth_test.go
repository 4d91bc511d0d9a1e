package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-chat-go/internal/model"
	"image-chat-go/pkg/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeSessionService 只实现中间件用到的 Current 方法。
type fakeSessionService struct {
	current *model.UserIdentity
}

func (f *fakeSessionService) Restore(_ context.Context) {}
func (f *fakeSessionService) Login(_ context.Context, _ string) (*model.UserIdentity, string, error) {
	return nil, "", nil
}
func (f *fakeSessionService) Logout(_ context.Context) error     { return nil }
func (f *fakeSessionService) Current() *model.UserIdentity       { return f.current }
func (f *fakeSessionService) IssueWebsocketToken() (string, error) { return "", nil }

func newAuthRouter(jwtManager *token.JWTManager, session *fakeSessionService) *gin.Engine {
	r := gin.New()
	r.GET("/protected", AuthMiddleware(jwtManager, session), func(c *gin.Context) {
		identity, _ := c.Get("identity")
		c.JSON(http.StatusOK, gin.H{"email": identity.(*model.UserIdentity).Email})
	})
	return r
}

func doRequest(r *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// 测试合法 token 且会话匹配时放行
func TestAuthMiddleware_ValidToken(t *testing.T) {
	jwtManager := token.NewJWTManager("test-secret", 24)
	identity := &model.UserIdentity{Name: "Alice", Email: "alice@example.com", LoginAt: time.Now()}
	session := &fakeSessionService{current: identity}

	tokenString, err := jwtManager.GenerateSessionToken(identity)
	require.NoError(t, err)

	w := doRequest(newAuthRouter(jwtManager, session), "Bearer "+tokenString)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alice@example.com")
}

// 测试缺失或格式错误的授权头被拒绝
func TestAuthMiddleware_MissingOrMalformedHeader(t *testing.T) {
	jwtManager := token.NewJWTManager("test-secret", 24)
	r := newAuthRouter(jwtManager, &fakeSessionService{})

	assert.Equal(t, http.StatusUnauthorized, doRequest(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(r, "Token abc").Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(r, "Bearer not-a-jwt").Code)
}

// 测试 token 有效但会话已登出时被拒绝
func TestAuthMiddleware_SessionGone(t *testing.T) {
	jwtManager := token.NewJWTManager("test-secret", 24)
	identity := &model.UserIdentity{Email: "alice@example.com"}
	session := &fakeSessionService{current: nil}

	tokenString, err := jwtManager.GenerateSessionToken(identity)
	require.NoError(t, err)

	w := doRequest(newAuthRouter(jwtManager, session), "Bearer "+tokenString)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// 测试 token 对应的用户与当前会话不一致时被拒绝
func TestAuthMiddleware_UserMismatch(t *testing.T) {
	jwtManager := token.NewJWTManager("test-secret", 24)
	session := &fakeSessionService{current: &model.UserIdentity{Email: "bob@example.com"}}

	tokenString, err := jwtManager.GenerateSessionToken(&model.UserIdentity{Email: "alice@example.com"})
	require.NoError(t, err)

	w := doRequest(newAuthRouter(jwtManager, session), "Bearer "+tokenString)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
