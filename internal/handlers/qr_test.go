package handlers_test

import (
	"bytes"
	"image/png"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sataplan/server/internal/handlers/testutil"
	"github.com/sataplan/server/internal/models"
)

type issuedToken struct {
	ID        string     `json:"id"`
	GoalID    string     `json:"goal_id"`
	Token     string     `json:"token"`
	URL       string     `json:"url"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type goalView struct {
	GoalID      string `json:"goal_id"`
	GoalDetails struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Motivations []struct {
			ID    string `json:"id"`
			Quote string `json:"quote"`
			Link  string `json:"link"`
		} `json:"motivations"`
	} `json:"goal_details"`
	GrantToken string `json:"grant_token"`
}

func issueToken(t *testing.T, env *testutil.Env, goalID, accessToken string, body any) issuedToken {
	t.Helper()
	w := env.Request(http.MethodPost, "/api/qr/goals/"+goalID+"/tokens", body, accessToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var issued issuedToken
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &issued)
	require.NotEmpty(t, issued.Token)
	return issued
}

func TestQRHandler_OneTimeLifecycle(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := env.CreateUser("Qr0wner!pass")
	goal := env.CreateGoal(owner.ID, "Climb Mont Blanc", "Summit before fifty")
	login := env.Login(owner.Username, "Qr0wner!pass")
	token := login.AccessToken

	motivate := env.Request(http.MethodPost, "/api/motivations/"+goal.ID, map[string]string{
		"quote": "The summit is what drives us.",
	}, token)
	require.Equal(t, http.StatusCreated, motivate.Code, motivate.Body.String())

	bounded := issueToken(t, env, goal.ID, token, map[string]int64{"ttl": 3600})
	require.Equal(t, goal.ID, bounded.GoalID)
	require.NotNil(t, bounded.ExpiresAt)
	require.Contains(t, bounded.URL, "/view?token="+bounded.Token)

	// Without a ttl and with no configured default the token never expires
	unbounded := issueToken(t, env, goal.ID, token, nil)
	require.Nil(t, unbounded.ExpiresAt)

	list := env.Request(http.MethodGet, "/api/qr/goals/"+goal.ID+"/tokens", nil, token)
	require.Equal(t, http.StatusOK, list.Code, list.Body.String())
	var tokens []models.AccessToken
	testutil.DecodeInto(t, testutil.DecodeResponse(t, list).Data, &tokens)
	require.Len(t, tokens, 2)
	for _, tok := range tokens {
		require.False(t, tok.Consumed)
	}

	// A visitor scans the code: the view consumes the token
	view := env.Request(http.MethodGet, "/api/qr/view?token="+bounded.Token, nil, "")
	require.Equal(t, http.StatusOK, view.Code, view.Body.String())
	var visited goalView
	testutil.DecodeInto(t, testutil.DecodeResponse(t, view).Data, &visited)
	require.Equal(t, goal.ID, visited.GoalID)
	require.Equal(t, "Climb Mont Blanc", visited.GoalDetails.Name)
	require.Len(t, visited.GoalDetails.Motivations, 1)
	require.NotEmpty(t, visited.GrantToken)

	// Scanning the same code again is a replay
	replay := env.Request(http.MethodGet, "/api/qr/view?token="+bounded.Token, nil, "")
	require.Equal(t, http.StatusConflict, replay.Code, replay.Body.String())
	require.Equal(t, "ACCESS_TOKEN_USED", testutil.DecodeResponse(t, replay).Error.Code)

	// The grant from the first scan still opens the goal view
	reload := env.Request(http.MethodGet, "/api/qr/view-goal?token="+visited.GrantToken, nil, "")
	require.Equal(t, http.StatusOK, reload.Code, reload.Body.String())
	var reloaded goalView
	testutil.DecodeInto(t, testutil.DecodeResponse(t, reload).Data, &reloaded)
	require.Equal(t, goal.ID, reloaded.GoalID)

	list = env.Request(http.MethodGet, "/api/qr/goals/"+goal.ID+"/tokens", nil, token)
	require.Equal(t, http.StatusOK, list.Code)
	testutil.DecodeInto(t, testutil.DecodeResponse(t, list).Data, &tokens)
	consumedCount := 0
	for _, tok := range tokens {
		if tok.Consumed {
			consumedCount++
			require.NotNil(t, tok.ConsumedAt)
		}
	}
	require.Equal(t, 1, consumedCount)
}

func TestQRHandler_TokenExpiry(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := env.CreateUser("Qr0wner!pass")
	goal := env.CreateGoal(owner.ID, "Read fifty books", "")
	login := env.Login(owner.Username, "Qr0wner!pass")

	issued := issueToken(t, env, goal.ID, login.AccessToken, map[string]int64{"ttl": 3600})

	expired := time.Now().Add(-time.Minute)
	require.NoError(t, env.DB.Model(&models.AccessToken{}).
		Where("id = ?", issued.ID).
		Update("expires_at", expired).Error)

	view := env.Request(http.MethodGet, "/api/qr/view?token="+issued.Token, nil, "")
	require.Equal(t, http.StatusGone, view.Code, view.Body.String())
	require.Equal(t, "ACCESS_TOKEN_EXPIRED", testutil.DecodeResponse(t, view).Error.Code)

	// Expiry does not consume: the row survives for the audit trail until swept
	var stored models.AccessToken
	require.NoError(t, env.DB.Take(&stored, "id = ?", issued.ID).Error)
	require.False(t, stored.Consumed)

	bad := env.Request(http.MethodPost, "/api/qr/goals/"+goal.ID+"/tokens", map[string]int64{"ttl": -5}, login.AccessToken)
	require.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestQRHandler_RevokeToken(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := env.CreateUser("Qr0wner!pass")
	goal := env.CreateGoal(owner.ID, "Restore the old bike", "")
	login := env.Login(owner.Username, "Qr0wner!pass")
	token := login.AccessToken

	issued := issueToken(t, env, goal.ID, token, nil)

	revoke := env.Request(http.MethodDelete, "/api/qr/tokens/"+issued.ID, nil, token)
	require.Equal(t, http.StatusOK, revoke.Code, revoke.Body.String())

	// A revoked code can never grant access
	view := env.Request(http.MethodGet, "/api/qr/view?token="+issued.Token, nil, "")
	require.Equal(t, http.StatusConflict, view.Code)
	require.Equal(t, "ACCESS_TOKEN_USED", testutil.DecodeResponse(t, view).Error.Code)

	again := env.Request(http.MethodDelete, "/api/qr/tokens/"+issued.ID, nil, token)
	require.Equal(t, http.StatusConflict, again.Code)

	// Someone else's tokens are invisible
	intruder := env.CreateUser("Intrud3r!pass")
	intruderLogin := env.Login(intruder.Username, "Intrud3r!pass")
	fresh := issueToken(t, env, goal.ID, token, nil)
	blocked := env.Request(http.MethodDelete, "/api/qr/tokens/"+fresh.ID, nil, intruderLogin.AccessToken)
	require.Equal(t, http.StatusNotFound, blocked.Code)
}

func TestQRHandler_Images(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := env.CreateUser("Qr0wner!pass")
	goal := env.CreateGoal(owner.ID, "Paint the fence", "")
	login := env.Login(owner.Username, "Qr0wner!pass")
	token := login.AccessToken

	direct := env.Request(http.MethodPost, "/api/qr/goals/"+goal.ID+"/tokens?format=png", nil, token)
	require.Equal(t, http.StatusCreated, direct.Code)
	require.Equal(t, "image/png", direct.Header().Get("Content-Type"))
	require.Contains(t, direct.Header().Get("Content-Disposition"), goal.ID)
	_, err := png.Decode(bytes.NewReader(direct.Body.Bytes()))
	require.NoError(t, err)

	issued := issueToken(t, env, goal.ID, token, nil)
	image := env.Request(http.MethodGet, "/api/qr/goals/"+goal.ID+"/tokens/"+issued.Token+"/image", nil, token)
	require.Equal(t, http.StatusOK, image.Code)
	_, err = png.Decode(bytes.NewReader(image.Body.Bytes()))
	require.NoError(t, err)

	unknown := env.Request(http.MethodGet, "/api/qr/goals/"+goal.ID+"/tokens/not-a-real-token/image", nil, token)
	require.Equal(t, http.StatusNotFound, unknown.Code)
}

func TestQRHandler_PermanentFlow(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := env.CreateUser("Qr0wner!pass")
	goal := env.CreateGoal(owner.ID, "Grow a vegetable garden", "")
	login := env.Login(owner.Username, "Qr0wner!pass")
	token := login.AccessToken

	generate := env.Request(http.MethodGet, "/api/qr/generate-permanent-qr/"+goal.ID, nil, token)
	require.Equal(t, http.StatusOK, generate.Code)
	password := generate.Header().Get("X-Goal-Password")
	require.NotEmpty(t, password)
	_, err := png.Decode(bytes.NewReader(generate.Body.Bytes()))
	require.NoError(t, err)

	verify := env.Request(http.MethodPost, "/api/qr/verify-goal-access", map[string]string{
		"goal_id":  goal.ID,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, verify.Code, verify.Body.String())
	var granted struct {
		GrantToken string `json:"grant_token"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, verify).Data, &granted)
	require.NotEmpty(t, granted.GrantToken)

	open := env.Request(http.MethodGet, "/api/qr/view-goal?token="+granted.GrantToken, nil, "")
	require.Equal(t, http.StatusOK, open.Code, open.Body.String())

	wrong := env.Request(http.MethodPost, "/api/qr/verify-goal-access", map[string]string{
		"goal_id":  goal.ID,
		"password": "not-the-password",
	}, "")
	require.Equal(t, http.StatusUnauthorized, wrong.Code)
	require.Equal(t, "GOAL_ACCESS_DENIED", testutil.DecodeResponse(t, wrong).Error.Code)

	// Regeneration rotates the password; the old one stops working
	regenerate := env.Request(http.MethodGet, "/api/qr/generate-permanent-qr/"+goal.ID, nil, token)
	require.Equal(t, http.StatusOK, regenerate.Code)
	rotated := regenerate.Header().Get("X-Goal-Password")
	require.NotEmpty(t, rotated)
	require.NotEqual(t, password, rotated)

	stale := env.Request(http.MethodPost, "/api/qr/verify-goal-access", map[string]string{
		"goal_id":  goal.ID,
		"password": password,
	}, "")
	require.Equal(t, http.StatusUnauthorized, stale.Code)
}

func TestQRHandler_PermanentFlowWithoutPassword(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := env.CreateUser("Qr0wner!pass")
	goal := env.CreateGoal(owner.ID, "No QR here yet", "")

	verify := env.Request(http.MethodPost, "/api/qr/verify-goal-access", map[string]string{
		"goal_id":  goal.ID,
		"password": "anything",
	}, "")
	require.Equal(t, http.StatusBadRequest, verify.Code, verify.Body.String())
}

func TestQRHandler_InvalidGrantAndForeignGoal(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := env.CreateUser("Qr0wner!pass")
	goal := env.CreateGoal(owner.ID, "Meditate daily", "")

	garbage := env.Request(http.MethodGet, "/api/qr/view-goal?token=garbage", nil, "")
	require.Equal(t, http.StatusUnauthorized, garbage.Code)

	// Issuing codes for someone else's goal is a 404
	intruder := env.CreateUser("Intrud3r!pass")
	intruderLogin := env.Login(intruder.Username, "Intrud3r!pass")
	blocked := env.Request(http.MethodPost, "/api/qr/goals/"+goal.ID+"/tokens", nil, intruderLogin.AccessToken)
	require.Equal(t, http.StatusNotFound, blocked.Code)

	missing := env.Request(http.MethodGet, "/api/qr/view?token=definitely-not-issued", nil, "")
	require.Equal(t, http.StatusNotFound, missing.Code)
}
