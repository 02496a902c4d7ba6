package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calmecac/wabridge/domains/access"
	"github.com/calmecac/wabridge/domains/session"
	"github.com/calmecac/wabridge/pkg/apperror"
	"github.com/calmecac/wabridge/ui/rest/middleware"
)

type fakeSupervisor struct {
	running  []session.RunningSession
	qr       string
	lastText string
	lastTo   string
	sendErr  error
}

func (f *fakeSupervisor) Init(ctx context.Context, accountID, label string) (session.Status, error) {
	return session.StatusStarting, nil
}
func (f *fakeSupervisor) Stop(ctx context.Context, accountID, label string) error    { return nil }
func (f *fakeSupervisor) Destroy(ctx context.Context, accountID, label string) error { return nil }
func (f *fakeSupervisor) Status(accountID, label string) session.Status {
	return session.StatusReady
}
func (f *fakeSupervisor) QR(accountID, label string) string { return f.qr }
func (f *fakeSupervisor) ListRunning(accountID string) []session.RunningSession {
	return f.running
}
func (f *fakeSupervisor) RestoreAllFromFs(ctx context.Context) (int, error) { return 0, nil }
func (f *fakeSupervisor) SendText(ctx context.Context, accountID, label, to, text string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.lastTo = to
	f.lastText = text
	return "wa-id-1", nil
}
func (f *fakeSupervisor) SendMedia(ctx context.Context, accountID, label, to string, media session.Media, caption string) (string, error) {
	return "wa-id-2", nil
}
func (f *fakeSupervisor) DownloadMessageMedia(ctx context.Context, accountID, label, messageID string) (*session.DownloadedMedia, error) {
	return nil, apperror.NotFoundError("media expired")
}
func (f *fakeSupervisor) Subscribe() (<-chan session.Event, func()) {
	ch := make(chan session.Event)
	return ch, func() { close(ch) }
}

// testApp arma la app con un auth falso que inyecta la vista dada.
func testApp(sup session.ISupervisor, view access.View) *fiber.App {
	app := fiber.New()
	app.Use(middleware.Recovery())

	group := app.Group("/api/accounts/:accountId", func(c *fiber.Ctx) error {
		c.Locals(middleware.LocalUID, "user-1")
		c.Locals(middleware.LocalAccessView, view)
		return c.Next()
	})
	InitRestSession(group, sup)
	app.Use(NotFoundFallback)
	return app
}

func adminView() access.View {
	return access.View{Role: access.RoleAdministrator}
}

func TestSessionList_OperatorSeesOnlyAllowed(t *testing.T) {
	sup := &fakeSupervisor{running: []session.RunningSession{
		{AccountID: "acct", Label: "ventas", Status: session.StatusReady},
		{AccountID: "acct", Label: "soporte", Status: session.StatusReady},
	}}
	app := testApp(sup, access.View{Role: access.RoleOperator, Labels: []string{"ventas"}})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/accounts/acct/sessions", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var body struct {
		Results []session.RunningSession `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "ventas", body.Results[0].Label)
}

func TestSessionQR_NotFoundWithoutPendingQR(t *testing.T) {
	app := testApp(&fakeSupervisor{}, adminView())

	resp, err := app.Test(httptest.NewRequest("GET", "/api/accounts/acct/sessions/ventas/qr", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestSessionQR_ForbiddenForUnlistedLabel(t *testing.T) {
	app := testApp(&fakeSupervisor{qr: "qr"}, access.View{Role: access.RoleOperator, Labels: []string{"ventas"}})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/accounts/acct/sessions/soporte/qr", nil))
	require.NoError(t, err)
	assert.Equal(t, 403, resp.StatusCode)
}

func TestSendText_Success(t *testing.T) {
	sup := &fakeSupervisor{}
	app := testApp(sup, adminView())

	payload, _ := json.Marshal(SendTextRequest{To: "5215512345678@c.us", Text: "hola"})
	req := httptest.NewRequest("POST", "/api/accounts/acct/sessions/ventas/messages/text", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "hola", sup.lastText)
	assert.Equal(t, "5215512345678@c.us", sup.lastTo)
}

func TestSendText_ValidationError(t *testing.T) {
	app := testApp(&fakeSupervisor{}, adminView())

	payload, _ := json.Marshal(SendTextRequest{To: "", Text: ""})
	req := httptest.NewRequest("POST", "/api/accounts/acct/sessions/ventas/messages/text", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

// Un apperror desde el supervisor conserva su status en la respuesta.
func TestSendText_NotReadyMapsTo409(t *testing.T) {
	sup := &fakeSupervisor{sendErr: apperror.NotReadyError("session acct__ventas is not ready")}
	app := testApp(sup, adminView())

	payload, _ := json.Marshal(SendTextRequest{To: "5215512345678@c.us", Text: "hola"})
	req := httptest.NewRequest("POST", "/api/accounts/acct/sessions/ventas/messages/text", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 409, resp.StatusCode)

	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "SESSION_NOT_READY", body.Code)
}

func TestNotFoundFallback(t *testing.T) {
	app := testApp(&fakeSupervisor{}, adminView())

	resp, err := app.Test(httptest.NewRequest("GET", "/no-such-route", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)

	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Code)
}

func TestSendMediaRequest_Validate(t *testing.T) {
	assert.Error(t, SendMediaRequest{To: "123@c.us"}.Validate(), "sin fuente")
	assert.Error(t, SendMediaRequest{To: "123@c.us", URL: "https://x/y.ogg", DataB64: "aGk="}.Validate(), "dos fuentes")
	assert.NoError(t, SendMediaRequest{To: "5215512345678@c.us", URL: "https://cdn.example/v.ogg"}.Validate())
	assert.NoError(t, SendMediaRequest{To: "5215512345678@c.us", DataB64: "aGk="}.Validate())
}
