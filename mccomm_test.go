package proxvoice

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestMCComm(t *testing.T) *MCComm {
	t.Helper()
	return NewMCComm(NewServer(testConfig(), nil), "tok")
}

func postJSON(t *testing.T, h http.HandlerFunc, session string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(data))
	if session != "" {
		req.Header.Set("X-Session", session)
	}
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func login(t *testing.T, mc *MCComm, token string) (string, int) {
	t.Helper()

	w := postJSON(t, mc.handleLogin, "", map[string]string{"token": token})
	if w.Code != http.StatusOK {
		return "", w.Code
	}

	var resp struct {
		Session string `json:"session"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	return resp.Session, w.Code
}

func TestMCCommLogin(t *testing.T) {
	mc := newTestMCComm(t)

	if _, code := login(t, mc, "wrong"); code != http.StatusUnauthorized {
		t.Errorf("wrong token got %d, want 401", code)
	}

	session, code := login(t, mc, "tok")
	if code != http.StatusOK || session == "" {
		t.Fatalf("login got %d, session %q", code, session)
	}
}

func TestMCCommSessionRequired(t *testing.T) {
	mc := newTestMCComm(t)
	h := mc.session(mc.handleReset)

	if w := postJSON(t, h, "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("missing session got %d, want 401", w.Code)
	}
	if w := postJSON(t, h, "bogus", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("bogus session got %d, want 401", w.Code)
	}

	session, _ := login(t, mc, "tok")
	if w := postJSON(t, h, session, nil); w.Code != http.StatusOK {
		t.Errorf("valid session got %d, want 200", w.Code)
	}
}

func TestMCCommBindUnknownKey(t *testing.T) {
	mc := newTestMCComm(t)

	w := postJSON(t, mc.handleBind, "", map[string]interface{}{
		"key": 42, "name": "alice",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("bind to unknown key got %d, want 404", w.Code)
	}
}

func TestMCCommReset(t *testing.T) {
	mc := newTestMCComm(t)
	for i := 0; i < 3; i++ {
		mc.srv.World().CreateEntity()
	}

	if w := postJSON(t, mc.handleReset, "", nil); w.Code != http.StatusOK {
		t.Fatalf("reset got %d", w.Code)
	}
	if n := mc.srv.World().Len(); n != 0 {
		t.Errorf("world has %d entities after reset", n)
	}
}

func TestMCCommUpdateEmptyBatch(t *testing.T) {
	mc := newTestMCComm(t)

	w := postJSON(t, mc.handleUpdate, "", map[string]interface{}{"entities": []entityUpdate{}})
	if w.Code != http.StatusOK {
		t.Fatalf("empty update got %d", w.Code)
	}

	var resp struct {
		Speaking []string `json:"speaking"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Speaking) != 0 {
		t.Errorf("speaking = %v on an empty server", resp.Speaking)
	}
}
