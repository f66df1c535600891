package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sataplan/server/internal/handlers/testutil"
)

type profilePayload struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	FirstName   string         `json:"firstname"`
	LastName    string         `json:"lastname"`
	Bio         string         `json:"bio"`
	Preferences map[string]any `json:"preferences"`
}

func TestProfileHandler_CreateAndMe(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser("Pr0file!pass")
	login := env.Login(user.Username, "Pr0file!pass")

	// Before a profile exists /me serves only the account fields
	me := env.Request(http.MethodGet, "/api/user/me", nil, login.AccessToken)
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())
	var bare map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, me).Data, &bare)
	require.Equal(t, user.ID, bare["id"])
	require.NotContains(t, bare, "first_name")

	create := env.Request(http.MethodPost, "/api/user/create-profile", map[string]string{
		"firstname": "Ada",
		"lastname":  "Lovelace",
		"bio":       "First programmer",
	}, login.AccessToken)
	require.Equal(t, http.StatusCreated, create.Code, create.Body.String())
	var profile profilePayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, create).Data, &profile)
	require.Equal(t, user.ID, profile.UserID)
	require.Equal(t, "Ada", profile.FirstName)

	// One profile per user
	dup := env.Request(http.MethodPost, "/api/user/create-profile", map[string]string{"firstname": "Again"}, login.AccessToken)
	require.Equal(t, http.StatusConflict, dup.Code)
	require.Equal(t, "PROFILE_EXISTS", testutil.DecodeResponse(t, dup).Error.Code)

	me = env.Request(http.MethodGet, "/api/user/me", nil, login.AccessToken)
	require.Equal(t, http.StatusOK, me.Code)
	var full map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, me).Data, &full)
	require.Equal(t, "Ada", full["first_name"])
	require.Equal(t, "Lovelace", full["last_name"])
	require.Equal(t, "First programmer", full["bio"])
}

func TestProfileHandler_UpdatePartial(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser("Pr0file!pass")
	login := env.Login(user.Username, "Pr0file!pass")

	create := env.Request(http.MethodPost, "/api/user/create-profile", map[string]string{
		"firstname": "Grace",
		"lastname":  "Hopper",
	}, login.AccessToken)
	require.Equal(t, http.StatusCreated, create.Code, create.Body.String())

	// Only the bio changes; names stay put
	update := env.Request(http.MethodPut, "/api/user/update-profile", map[string]any{
		"bio": "Compiler pioneer",
	}, login.AccessToken)
	require.Equal(t, http.StatusOK, update.Code, update.Body.String())
	var updated profilePayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, update).Data, &updated)
	require.Equal(t, "Grace", updated.FirstName)
	require.Equal(t, "Hopper", updated.LastName)
	require.Equal(t, "Compiler pioneer", updated.Bio)

	// Preferences round-trip as free-form JSON
	prefs := env.Request(http.MethodPut, "/api/user/update-profile", map[string]any{
		"preferences": map[string]any{"theme": "dark", "goal_reminders": true},
	}, login.AccessToken)
	require.Equal(t, http.StatusOK, prefs.Code, prefs.Body.String())
	var withPrefs profilePayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, prefs).Data, &withPrefs)
	require.Equal(t, "dark", withPrefs.Preferences["theme"])
	require.Equal(t, true, withPrefs.Preferences["goal_reminders"])
	require.Equal(t, "Grace", withPrefs.FirstName)
}

func TestProfileHandler_UpdateWithoutProfile(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser("Pr0file!pass")
	login := env.Login(user.Username, "Pr0file!pass")

	update := env.Request(http.MethodPut, "/api/user/update-profile", map[string]any{"bio": "no profile yet"}, login.AccessToken)
	require.Equal(t, http.StatusNotFound, update.Code)
	require.Equal(t, "PROFILE_NOT_FOUND", testutil.DecodeResponse(t, update).Error.Code)
}
