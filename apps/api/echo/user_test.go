package echoapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortly/cohortly/core/user"
	"github.com/cohortly/cohortly/testutil"
)

const goodPwd = "Tr4ining!Day"

func Test_userApi_query(t *testing.T) {
	env := setup(t)

	path := func(search, ordering string, isActive *bool, roles ...string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		if ordering != "" {
			v.Add("ordering", ordering)
		}
		if isActive != nil {
			v.Add("is_active", strconv.FormatBool(*isActive))
		}
		for _, r := range roles {
			v.Add("role", r)
		}
		return "/v1/users?" + v.Encode()
	}
	bPtr := func(b bool) *bool { return &b }

	now := time.Now()
	admin := testutil.CreateUser(t, env.userRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true, now.Add(1*time.Hour))
	lead := testutil.CreateUser(t, env.userRepo, "Lead", "lead", "lead@test.cd", "", []string{user.RoleTrainerLead}, true, now.Add(2*time.Hour))
	trainer := testutil.CreateUser(t, env.userRepo, "Trainer", "trainer", "trainer@test.cd", "", []string{user.RoleTrainer}, true, now.Add(3*time.Hour))
	ann := testutil.CreateUser(t, env.userRepo, "Ann User", "ann", "ann@test.cd", "", []string{user.RoleTrainee}, true, now.Add(4*time.Hour))
	bob := testutil.CreateUser(t, env.userRepo, "Bob", "bob", "bob@test.cd", "", []string{user.RoleTrainee}, false, now.Add(5*time.Hour))

	adminToken := env.getToken(t, admin)
	empty := marchallList(t)

	runHTTPTests(t, env, []httpTest{
		{name: "Auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Staff required", path: "/v1/users", token: env.getToken(t, ann), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "Get all", path: "/v1/users", token: adminToken, wantData: marchallList(t, bob, ann, trainer, lead, admin)},
		{name: "Trainers can list", path: "/v1/users", token: env.getToken(t, trainer), wantData: marchallList(t, bob, ann, trainer, lead, admin)},
		{name: "search (unknown)", path: path("lol", "", nil), token: adminToken, wantData: empty},
		{name: "search=USE", path: path("USE", "", nil), token: adminToken, wantData: marchallList(t, ann)},
		{name: "role=trainer:", path: path("", "", nil, user.RoleTrainer), token: adminToken, wantData: marchallList(t, trainer, lead)},
		{name: "role=trainee:", path: path("", "", nil, user.RoleTrainee), token: adminToken, wantData: marchallList(t, bob, ann)},
		{name: "is_active=false", path: path("", "", bPtr(false)), token: adminToken, wantData: marchallList(t, bob)},
		{name: "all combo", path: path("a", "", bPtr(true), user.RoleTrainee), token: adminToken, wantData: marchallList(t, ann)},
		{name: "order by created_at", path: path("", "created_at", nil), token: adminToken, wantData: marchallList(t, admin, lead, trainer, ann, bob)},
		{name: "order by name", path: path("", "-name", nil), token: adminToken, wantData: marchallList(t, trainer, lead, bob, ann, admin)},
	})
}

func Test_userApi_login(t *testing.T) {
	env := setup(t)
	testutil.CreateUser(t, env.userRepo, "Ann", "ann", "ann@test.cd", goodPwd, []string{user.RoleTrainee}, true)
	testutil.CreateUser(t, env.userRepo, "Gone", "gone", "gone@test.cd", goodPwd, []string{user.RoleTrainee}, false)

	login := func(uname, pwd string) []byte {
		return marchallObj(t, LoginRequest{Username: uname, Password: pwd})
	}

	runHTTPTests(t, env, []httpTest{
		{
			name: "Empty body", method: http.MethodPost, path: "/v1/users/login", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"username": "this field is required", "password": "this field is required"}),
		},
		{
			name: "Wrong password", method: http.MethodPost, path: "/v1/users/login", body: login("ann", "nope"),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "Unknown user", method: http.MethodPost, path: "/v1/users/login", body: login("who", goodPwd),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "Deactivated", method: http.MethodPost, path: "/v1/users/login", body: login("gone", goodPwd),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
	})

	for _, uname := range []string{"ann", "ANN@test.cd"} {
		t.Run("Success "+uname, func(t *testing.T) {
			rec := env.do(httpTest{method: http.MethodPost, path: "/v1/users/login", body: login(uname, goodPwd)})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var resp LoginResponse
			unmarshal(t, rec, &resp)
			assert.NotEmpty(t, resp.Token)

			// the token grants access
			rec = env.do(httpTest{method: http.MethodPost, path: "/v1/users/token-refresh", token: resp.Token})
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		})
	}

	usr, err := env.userRepo.GetUser(context.Background(), user.GetFilter{Username: "ann"})
	require.NoError(t, err)
	assert.False(t, usr.LastLogin.IsZero())
}

func Test_userApi_create(t *testing.T) {
	env := setup(t)
	admin := testutil.CreateUser(t, env.userRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	trainer := testutil.CreateUser(t, env.userRepo, "Trainer", "trainer", "trainer@test.cd", "", []string{user.RoleTrainer}, true)
	adminToken := env.getToken(t, admin)

	newUser := func(uname string, roles ...string) []byte {
		return marchallObj(t, user.NewUser{
			Name:            "New Trainee",
			Username:        uname,
			Email:           uname + "@example.com",
			Password:        goodPwd,
			PasswordConfirm: goodPwd,
			Roles:           roles,
		})
	}

	runHTTPTests(t, env, []httpTest{
		{
			name: "Admin required", method: http.MethodPost, path: "/v1/users/register", body: newUser("newbie"),
			token: env.getToken(t, trainer), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Higher role", method: http.MethodPost, path: "/v1/users/register", body: newUser("newbie", user.RoleAdminOwner),
			token: adminToken, wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"roles": errNoPermsToSetRoles}),
		},
		{
			name: "Username taken", method: http.MethodPost, path: "/v1/users/register", body: newUser("trainer"),
			token: adminToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"username": user.ErrUsernameExists.Error()}),
		},
		{
			name: "Unknown role", method: http.MethodPost, path: "/v1/users/register", body: newUser("newbie", "boss:"),
			token: adminToken, wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"roles": "invalid roles"}),
		},
	})

	rec := env.do(httpTest{method: http.MethodPost, path: "/v1/users/register", body: newUser("Newbie", user.RoleTrainee), token: adminToken})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created user.User
	unmarshal(t, rec, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "newbie", created.Username)
	assert.Equal(t, []string{user.RoleTrainee}, created.Roles)
	assert.True(t, created.IsActive)
}

func Test_userApi_detail(t *testing.T) {
	env := setup(t)
	admin := testutil.CreateUser(t, env.userRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	owner := testutil.CreateUser(t, env.userRepo, "Owner", "owner", "owner@test.cd", "", []string{user.RoleAdminOwner}, true)
	trainer := testutil.CreateUser(t, env.userRepo, "Trainer", "trainer", "trainer@test.cd", "", []string{user.RoleTrainer}, true)
	ann := testutil.CreateTrainee(t, env.userRepo, "Ann", "annie")
	bob := testutil.CreateTrainee(t, env.userRepo, "Bob", "bobby")

	adminToken := env.getToken(t, admin)
	annToken := env.getToken(t, ann)
	notFound := marchallObj(t, httpErr{Error: "not found"})
	forbidden := marchallObj(t, httpErr{Error: "permission denied"})

	runHTTPTests(t, env, []httpTest{
		{name: "Self", path: "/v1/users/" + ann.ID, token: annToken, wantData: marchallObj(t, ann)},
		{name: "Other trainee", path: "/v1/users/" + bob.ID, token: annToken, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "Trainer reads", path: "/v1/users/" + bob.ID, token: env.getToken(t, trainer), wantData: marchallObj(t, bob)},
		{name: "Admin reads", path: "/v1/users/" + bob.ID, token: adminToken, wantData: marchallObj(t, bob)},
		{name: "Unknown", path: "/v1/users/nope", token: adminToken, wantCode: http.StatusNotFound, wantData: notFound},
		{
			name: "Trainer cannot update others", method: http.MethodPut, path: "/v1/users/" + bob.ID, token: env.getToken(t, trainer),
			body: []byte(`{"name": "Robert"}`), wantCode: http.StatusNotFound, wantData: notFound,
		},
		{
			name: "Trainee cannot set roles", method: http.MethodPut, path: "/v1/users/" + ann.ID, token: annToken,
			body: []byte(`{"roles": ["admin:"]}`), wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{name: "No self delete", method: http.MethodDelete, path: "/v1/users/" + admin.ID, token: adminToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "No delete of higher role", method: http.MethodDelete, path: "/v1/users/" + owner.ID, token: adminToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "Trainee cannot delete", method: http.MethodDelete, path: "/v1/users/" + ann.ID, token: annToken, wantCode: http.StatusForbidden, wantData: forbidden},
	})

	t.Run("Update self", func(t *testing.T) {
		rec := env.do(httpTest{method: http.MethodPut, path: "/v1/users/" + ann.ID, token: annToken, body: []byte(`{"name": " Ann B. "}`)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var updated user.User
		unmarshal(t, rec, &updated)
		assert.Equal(t, "Ann B.", updated.Name)
		assert.Equal(t, ann.Username, updated.Username)
	})

	t.Run("Admin deactivates", func(t *testing.T) {
		rec := env.do(httpTest{method: http.MethodPut, path: "/v1/users/" + bob.ID, token: adminToken, body: []byte(`{"is_active": false}`)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var updated user.User
		unmarshal(t, rec, &updated)
		assert.False(t, updated.IsActive)

		// deactivated users lose access
		rec = env.do(httpTest{path: "/v1/users/" + bob.ID, token: env.getToken(t, bob)})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("Delete", func(t *testing.T) {
		rec := env.do(httpTest{method: http.MethodDelete, path: "/v1/users/" + bob.ID, token: adminToken})
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
		_, err := env.userRepo.GetUser(context.Background(), user.GetFilter{ID: bob.ID})
		assert.ErrorIs(t, err, user.ErrNotFound)
	})

	t.Run("Delete multiple", func(t *testing.T) {
		rec := env.do(httpTest{method: http.MethodDelete, path: "/v1/users?id=" + ann.ID + "&id=" + admin.ID, token: adminToken})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = env.do(httpTest{method: http.MethodDelete, path: "/v1/users?id=" + ann.ID + "&id=" + trainer.ID, token: adminToken})
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
		users, err := env.userRepo.QueryUsers(context.Background(), &user.QueryFilter{}, nil)
		require.NoError(t, err)
		assert.Len(t, users, 2)
	})
}

func Test_userApi_roles(t *testing.T) {
	env := setup(t)
	admin := testutil.CreateUser(t, env.userRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)

	runHTTPTests(t, env, []httpTest{
		{name: "Roles", path: "/v1/users/roles", token: env.getToken(t, admin), wantData: marchallObj(t, user.Roles)},
	})
}

func Test_userApi_passwordReset(t *testing.T) {
	env := setup(t)
	ann := testutil.CreateUser(t, env.userRepo, "Ann", "ann", "ann@test.cd", goodPwd, []string{user.RoleTrainee}, true)

	success := marchallObj(t, SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})
	runHTTPTests(t, env, []httpTest{
		{
			name: "Invalid email", method: http.MethodPost, path: "/v1/users/password-reset", body: []byte(`{"email": "nope"}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"email": "email must be a valid email address"}),
		},
		{name: "Unknown email", method: http.MethodPost, path: "/v1/users/password-reset", body: []byte(`{"email": "who@test.cd"}`), wantData: success},
		{name: "Known email", method: http.MethodPost, path: "/v1/users/password-reset", body: []byte(`{"email": "ANN@test.cd"}`), wantData: success},
	})

	sent := env.mail.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, ann.Email, sent[0].To[0].Address)
	data := sent[0].TemplateData.(map[string]interface{})

	newPwd := "N3w-Passw0rd!"
	rec := env.do(httpTest{
		method: http.MethodPost,
		path:   "/v1/users/password-reset-confirm",
		body: marchallObj(t, user.ResetUserPassword{
			UID:             data["UID"].(string),
			Token:           data["Token"].(string),
			Password:        newPwd,
			PasswordConfirm: newPwd,
		}),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(httpTest{method: http.MethodPost, path: "/v1/users/login", body: marchallObj(t, LoginRequest{Username: "ann", Password: newPwd})})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
