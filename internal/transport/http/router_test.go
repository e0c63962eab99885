package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaymail/backend/internal/auth"
	"relaymail/backend/internal/auth/jwt"
	"relaymail/backend/internal/config"
	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/monitoring"
	"relaymail/backend/internal/service"
	"relaymail/backend/internal/storage"
	"relaymail/backend/internal/storage/memory"
)

const (
	testPageLimit = 3
	testSecret    = "billing-secret"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router     *gin.Engine
	store      *memory.Store
	aliases    *service.AliasService
	contacts   *service.ContactService
	activities *service.ActivityService
	apiKeys    *service.APIKeyService
	verifier   *service.HMACVerifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		Alias: config.AliasConfig{
			Domains:           []string{"relay.mail"},
			ReverseDomain:     "reply.relay.mail",
			PageLimit:         testPageLimit,
			MaxRandomAttempts: 10,
		},
		CORS: config.CORSConfig{AllowedOrigins: []string{"*"}},
	}
	metrics := monitoring.NewMetrics()
	store := memory.NewStore()

	s := &testServer{
		store:      store,
		aliases:    service.NewAliasService(cfg.Alias, metrics, nil),
		contacts:   service.NewContactService(cfg.Alias, metrics, nil),
		activities: service.NewActivityService(cfg.Alias.PageLimit, nil, metrics, nil),
		apiKeys:    service.NewAPIKeyService(store, 0, nil),
		verifier:   service.NewHMACVerifier(testSecret),
	}
	tokens := jwt.NewManager(strings.Repeat("s", 32), "relaymail", 15*time.Minute, time.Hour)

	s.router = NewRouter(RouterDependencies{
		Config:          cfg,
		Store:           store,
		AliasService:    s.aliases,
		ContactService:  s.contacts,
		ActivityService: s.activities,
		APIKeyService:   s.apiKeys,
		BillingService:  service.NewBillingService("100", nil),
		BillingVerifier: s.verifier,
		AuthService:     auth.NewService(tokens, s.aliases, nil),
		Metrics:         metrics,
	})
	return s
}

func (s *testServer) tx(t *testing.T, fn func(uow storage.UnitOfWork)) {
	t.Helper()
	uow, err := s.store.Begin(context.Background())
	require.NoError(t, err)
	defer uow.Rollback()
	fn(uow)
	require.NoError(t, uow.Commit())
}

// newUser 创建用户、默认别名和 API Key，返回用户与 key
func (s *testServer) newUser(t *testing.T) (*domain.User, string) {
	t.Helper()
	user := &domain.User{ID: "u1", Email: "a@b.c", Name: "Test User", IsActive: true}
	var code string
	s.tx(t, func(uow storage.UnitOfWork) {
		require.NoError(t, uow.Users().CreateUser(user))
		_, err := s.aliases.CreateRandom(uow, user, nil)
		require.NoError(t, err)
		key, err := s.apiKeys.Create(uow, user.ID, "for test")
		require.NoError(t, err)
		code = key.Code
	})
	return user, code
}

func (s *testServer) newAlias(t *testing.T, user *domain.User, prefix string) *domain.Alias {
	t.Helper()
	var alias *domain.Alias
	s.tx(t, func(uow storage.UnitOfWork) {
		var err error
		if prefix == "" {
			alias, err = s.aliases.CreateRandom(uow, user, nil)
		} else {
			alias, err = s.aliases.Create(uow, user, service.CreateAliasInput{Prefix: prefix})
		}
		require.NoError(t, err)
	})
	return alias
}

func (s *testServer) newContact(t *testing.T, alias *domain.Alias, addr string) *domain.Contact {
	t.Helper()
	var contact *domain.Contact
	s.tx(t, func(uow storage.UnitOfWork) {
		var err error
		contact, err = s.contacts.Create(uow, alias, addr, nil)
		require.NoError(t, err)
	})
	return contact
}

func (s *testServer) record(t *testing.T, alias *domain.Alias, contact *domain.Contact, kind domain.ActivityKind) {
	t.Helper()
	s.tx(t, func(uow storage.UnitOfWork) {
		_, err := s.activities.Record(uow, alias, contact, kind)
		require.NoError(t, err)
	})
}

func (s *testServer) do(t *testing.T, method, path, apiKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("Authentication", apiKey)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestGetAliases(t *testing.T) {
	t.Run("缺少 page_id 返回 400", func(t *testing.T) {
		s := newTestServer(t)
		_, key := s.newUser(t)

		rec := s.do(t, http.MethodGet, "/api/aliases", key, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NotEmpty(t, decode(t, rec)["error"])
	})

	t.Run("未认证返回 401", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(t, http.MethodGet, "/api/aliases?page_id=0", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("超大 page_id 返回 400", func(t *testing.T) {
		s := newTestServer(t)
		user, key := s.newUser(t)
		alias := s.newAlias(t, user, "")
		for _, path := range []string{
			"/api/aliases?page_id=4611686018427387904",
			"/api/v2/aliases?page_id=4611686018427387904",
			"/api/aliases?page_id=99999999999999999999",
			fmt.Sprintf("/api/aliases/%d/activities?page_id=4611686018427387904", alias.ID),
		} {
			rec := s.do(t, http.MethodGet, path, key, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		}
	})

	t.Run("分页", func(t *testing.T) {
		s := newTestServer(t)
		user, key := s.newUser(t)
		for i := 0; i < testPageLimit+1; i++ {
			s.newAlias(t, user, "")
		}

		rec := s.do(t, http.MethodGet, "/api/aliases?page_id=0", key, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		aliases := decode(t, rec)["aliases"].([]interface{})
		assert.Len(t, aliases, testPageLimit)
		for _, raw := range aliases {
			a := raw.(map[string]interface{})
			for _, field := range []string{"id", "email", "creation_date", "creation_timestamp", "nb_forward", "nb_block", "nb_reply", "enabled", "note"} {
				assert.Contains(t, a, field)
			}
		}

		// 默认别名加上新建的 PAGE_LIMIT+1 个
		rec = s.do(t, http.MethodGet, "/api/aliases?page_id=1", key, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode(t, rec)["aliases"], 2)
	})

	t.Run("按关键字搜索", func(t *testing.T) {
		s := newTestServer(t)
		user, key := s.newUser(t)
		s.newAlias(t, user, "prefix1")
		s.newAlias(t, user, "prefix2")

		rec := s.do(t, http.MethodGet, "/api/aliases?page_id=0", key, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode(t, rec)["aliases"], 3)

		rec = s.do(t, http.MethodGet, "/api/aliases?page_id=0", key, map[string]string{"query": "prefix1"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode(t, rec)["aliases"], 1)

		rec = s.do(t, http.MethodGet, "/api/aliases?page_id=0&query=PREFIX2", key, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode(t, rec)["aliases"], 1)
	})
}

func TestGetAliasesV2(t *testing.T) {
	s := newTestServer(t)
	user, key := s.newUser(t)
	a0 := s.newAlias(t, user, "prefix0")
	a1 := s.newAlias(t, user, "prefix1")

	c0 := s.newContact(t, a0, "c0@example.com")
	s.record(t, a0, c0, domain.KindForward)
	c1 := s.newContact(t, a1, "c1@example.com")
	s.record(t, a1, c1, domain.KindForward)

	rec := s.do(t, http.MethodGet, "/api/v2/aliases?page_id=0", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	aliases := decode(t, rec)["aliases"].([]interface{})
	require.Len(t, aliases, 3)

	r0 := aliases[0].(map[string]interface{})
	assert.True(t, strings.HasPrefix(r0["email"].(string), "prefix1"))
	latest := r0["latest_activity"].(map[string]interface{})
	assert.Equal(t, "forward", latest["action"])
	assert.Contains(t, latest, "timestamp")
	contact := latest["contact"].(map[string]interface{})
	assert.Equal(t, "c1@example.com", contact["email"])
	assert.Contains(t, contact, "name")
	assert.Contains(t, contact, "reverse_alias")

	// 没有活动的默认别名排在最后
	last := aliases[2].(map[string]interface{})
	assert.Nil(t, last["latest_activity"])
}

func TestGetAlias(t *testing.T) {
	s := newTestServer(t)
	user, key := s.newUser(t)
	alias := s.newAlias(t, user, "")

	rec := s.do(t, http.MethodGet, fmt.Sprintf("/api/aliases/%d", alias.ID), key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode(t, rec)
	assert.Equal(t, alias.Email, res["email"])
	assert.Equal(t, alias.CreatedAt.UTC().Format("2006-01-02 15:04:05-07:00"), res["creation_date"])
	assert.True(t, strings.HasSuffix(res["creation_date"].(string), "+00:00"))

	t.Run("不存在返回 404", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/aliases/9999", key, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		rec = s.do(t, http.MethodGet, "/api/aliases/abc", key, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("其他用户的别名返回 404", func(t *testing.T) {
		other := &domain.User{ID: "u2", Email: "x@y.z", IsActive: true}
		var otherKey string
		s.tx(t, func(uow storage.UnitOfWork) {
			require.NoError(t, uow.Users().CreateUser(other))
			k, err := s.apiKeys.Create(uow, other.ID, "other")
			require.NoError(t, err)
			otherKey = k.Code
		})
		rec := s.do(t, http.MethodGet, fmt.Sprintf("/api/aliases/%d", alias.ID), otherKey, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCreateAlias(t *testing.T) {
	t.Run("自定义别名", func(t *testing.T) {
		s := newTestServer(t)
		_, key := s.newUser(t)

		rec := s.do(t, http.MethodPost, "/api/alias/custom/new", key, map[string]interface{}{
			"alias_prefix": "Shop",
			"alias_suffix": "abc",
			"note":         "for shopping",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		res := decode(t, rec)
		assert.Equal(t, "shop.abc@relay.mail", res["email"])
		assert.Equal(t, "for shopping", res["note"])
		assert.Equal(t, true, res["enabled"])

		rec = s.do(t, http.MethodPost, "/api/alias/custom/new", key, map[string]interface{}{
			"alias_prefix": "shop",
			"alias_suffix": "abc",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("前缀非法", func(t *testing.T) {
		s := newTestServer(t)
		_, key := s.newUser(t)

		rec := s.do(t, http.MethodPost, "/api/alias/custom/new", key, map[string]interface{}{"alias_prefix": "!!!"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = s.do(t, http.MethodPost, "/api/alias/custom/new", key, map[string]interface{}{"alias_prefix": ""})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("随机别名", func(t *testing.T) {
		s := newTestServer(t)
		_, key := s.newUser(t)

		rec := s.do(t, http.MethodPost, "/api/alias/random/new", key, nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.True(t, strings.HasSuffix(decode(t, rec)["email"].(string), "@relay.mail"))

		rec = s.do(t, http.MethodPost, "/api/alias/random/new", key, map[string]string{"note": "n"})
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "n", decode(t, rec)["note"])
	})
}

func TestAliasMutations(t *testing.T) {
	s := newTestServer(t)
	user, key := s.newUser(t)

	t.Run("切换状态", func(t *testing.T) {
		alias := s.newAlias(t, user, "")
		rec := s.do(t, http.MethodPost, fmt.Sprintf("/api/aliases/%d/toggle", alias.ID), key, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"enabled": false}`, rec.Body.String())
	})

	t.Run("更新备注", func(t *testing.T) {
		alias := s.newAlias(t, user, "")
		rec := s.do(t, http.MethodPut, fmt.Sprintf("/api/aliases/%d", alias.ID), key, map[string]string{"note": "test note"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"note": "test note"}`, rec.Body.String())
	})

	t.Run("删除", func(t *testing.T) {
		alias := s.newAlias(t, user, "")
		rec := s.do(t, http.MethodDelete, fmt.Sprintf("/api/aliases/%d", alias.ID), key, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"deleted": true}`, rec.Body.String())

		rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/aliases/%d", alias.ID), key, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAliasActivities(t *testing.T) {
	s := newTestServer(t)
	user, key := s.newUser(t)
	alias := s.newAlias(t, user, "")
	contact := s.newContact(t, alias, "marketing@example.com")

	for i := 0; i < testPageLimit/2; i++ {
		s.record(t, alias, contact, domain.KindReply)
	}
	for i := 0; i < testPageLimit/2+2; i++ {
		s.record(t, alias, contact, domain.KindBlock)
	}

	rec := s.do(t, http.MethodGet, fmt.Sprintf("/api/aliases/%d/activities?page_id=0", alias.ID), key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	activities := decode(t, rec)["activities"].([]interface{})
	assert.Len(t, activities, testPageLimit)
	for _, raw := range activities {
		ac := raw.(map[string]interface{})
		assert.NotEmpty(t, ac["from"])
		assert.NotEmpty(t, ac["to"])
		assert.NotEmpty(t, ac["timestamp"])
		assert.NotEmpty(t, ac["action"])
		assert.NotEmpty(t, ac["reverse_alias"])
	}

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/aliases/%d/activities?page_id=1", alias.ID), key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Less(t, len(decode(t, rec)["activities"].([]interface{})), 3)
}

func TestAliasContacts(t *testing.T) {
	s := newTestServer(t)
	user, key := s.newUser(t)
	alias := s.newAlias(t, user, "")

	for i := 0; i < testPageLimit+1; i++ {
		contact := s.newContact(t, alias, fmt.Sprintf("marketing-%d@example.com", i))
		s.record(t, alias, contact, domain.KindReply)
	}

	rec := s.do(t, http.MethodGet, fmt.Sprintf("/api/aliases/%d/contacts?page_id=0", alias.ID), key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	contacts := decode(t, rec)["contacts"].([]interface{})
	assert.Len(t, contacts, testPageLimit)
	for _, raw := range contacts {
		ac := raw.(map[string]interface{})
		assert.NotEmpty(t, ac["creation_date"])
		assert.NotEmpty(t, ac["creation_timestamp"])
		assert.NotEmpty(t, ac["last_email_sent_date"])
		assert.NotEmpty(t, ac["last_email_sent_timestamp"])
		assert.NotEmpty(t, ac["contact"])
		assert.NotEmpty(t, ac["reverse_alias"])
	}

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/aliases/%d/contacts?page_id=1", alias.ID), key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["contacts"], 1)
}

func TestCreateContact(t *testing.T) {
	s := newTestServer(t)
	user, key := s.newUser(t)
	alias := s.newAlias(t, user, "")
	path := fmt.Sprintf("/api/aliases/%d/contacts", alias.ID)

	rec := s.do(t, http.MethodPost, path, key, map[string]string{"contact": "First Last <first@example.com>"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode(t, rec)
	assert.Equal(t, "first@example.com", res["contact"])
	assert.Contains(t, res, "creation_date")
	assert.Contains(t, res, "creation_timestamp")
	assert.Nil(t, res["last_email_sent_date"])
	assert.Nil(t, res["last_email_sent_timestamp"])
	assert.Contains(t, res["reverse_alias"], "First Last")

	rec = s.do(t, http.MethodPost, path, key, map[string]string{"contact": "First2 Last2 <first@example.com>"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, path, key, map[string]string{"contact": "not an address"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteContact(t *testing.T) {
	s := newTestServer(t)
	user, key := s.newUser(t)
	alias := s.newAlias(t, user, "")
	contact := s.newContact(t, alias, "contact@example.com")

	rec := s.do(t, http.MethodDelete, fmt.Sprintf("/api/contacts/%d", contact.ID), key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted": true}`, rec.Body.String())

	rec = s.do(t, http.MethodDelete, fmt.Sprintf("/api/contacts/%d", contact.ID), key, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    "New@Example.com",
		"password": "password123",
		"name":     "New",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode(t, rec)
	assert.NotEmpty(t, res["access_token"])
	assert.NotNil(t, res["default_alias"])
	assert.Equal(t, "new@example.com", res["user"].(map[string]interface{})["email"])

	rec = s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    "new@example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "new@example.com",
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "new@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	token := decode(t, rec)["access_token"].(string)

	// 使用访问令牌访问别名列表和 API Key 管理
	req := httptest.NewRequest(http.MethodGet, "/api/aliases?page_id=0", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["aliases"], 1)

	req = httptest.NewRequest(http.MethodPost, "/api/api_keys", strings.NewReader(`{"name":"extension"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	code := decode(t, w)["code"].(string)
	assert.Len(t, code, 48)

	rec = s.do(t, http.MethodGet, "/api/aliases?page_id=0", code, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBillingCallback(t *testing.T) {
	s := newTestServer(t)
	s.newUser(t)

	post := func(fields map[string]string) *httptest.ResponseRecorder {
		form := url.Values{}
		for k, v := range fields {
			form.Set(k, v)
		}
		req := httptest.NewRequest(http.MethodPost, "/paddle", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec
	}
	signed := func(fields map[string]string) map[string]string {
		fields["p_signature"] = s.verifier.Sign(fields)
		return fields
	}

	t.Run("签名错误", func(t *testing.T) {
		rec := post(map[string]string{"alert_name": "subscription_created", "p_signature": "00"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "KO", rec.Body.String())
	})

	t.Run("创建订阅", func(t *testing.T) {
		rec := post(signed(map[string]string{
			"alert_name":           "subscription_created",
			"email":                "a@b.c",
			"subscription_id":      "sub-1",
			"subscription_plan_id": "100",
			"next_bill_date":       "2026-12-01",
		}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "OK", rec.Body.String())

		s.tx(t, func(uow storage.UnitOfWork) {
			sub, err := uow.Subscriptions().GetSubscriptionByUserID("u1")
			require.NoError(t, err)
			assert.Equal(t, domain.PlanMonthly, sub.Plan)
		})
	})

	t.Run("取消不存在的订阅", func(t *testing.T) {
		rec := post(signed(map[string]string{
			"alert_name":      "subscription_cancelled",
			"subscription_id": "missing",
		}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "No such subscription", rec.Body.String())
	})
}

func TestOpsEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.do(t, http.MethodGet, "/api/aliases?page_id=0", "", nil)
	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
